package render

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/scene"
)

// ErrTargetSize indicates a target whose buffer does not match its dimensions.
var ErrTargetSize = errors.New("render target size mismatch")

// Target is an RGBA framebuffer.
type Target struct {
	Width  int
	Height int
	Pix    []byte
}

// NewTarget allocates a cleared width x height RGBA target.
func NewTarget(width, height int) (*Target, error) {
	res := video.Resolution{Width: width, Height: height}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &Target{Width: width, Height: height, Pix: make([]byte, res.RGBABytes())}, nil
}

// Validate checks the buffer length against the dimensions.
func (t *Target) Validate() error {
	if t == nil || t.Width <= 0 || t.Height <= 0 || len(t.Pix) != t.Width*t.Height*4 {
		return ErrTargetSize
	}
	return nil
}

// Fill sets every pixel to c.
func (t *Target) Fill(c scene.Color24) {
	for i := 0; i+3 < len(t.Pix); i += 4 {
		t.Pix[i] = c.R
		t.Pix[i+1] = c.G
		t.Pix[i+2] = c.B
		t.Pix[i+3] = 0xFF
	}
}

// Set writes one pixel; coordinates outside the target are ignored.
func (t *Target) Set(x, y int, c scene.Color24) {
	if x < 0 || y < 0 || x >= t.Width || y >= t.Height {
		return
	}
	i := (y*t.Width + x) * 4
	t.Pix[i] = c.R
	t.Pix[i+1] = c.G
	t.Pix[i+2] = c.B
	t.Pix[i+3] = 0xFF
}

// At returns the pixel at x, y.
func (t *Target) At(x, y int) scene.Color24 {
	i := (y*t.Width + x) * 4
	return scene.Color24{R: t.Pix[i], G: t.Pix[i+1], B: t.Pix[i+2]}
}

// Renderer draws a scene into a target.
type Renderer interface {
	Render(s *scene.Scene, target *Target) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(s *scene.Scene, target *Target) error

// Render implements Renderer.
func (f RendererFunc) Render(s *scene.Scene, target *Target) error {
	return f(s, target)
}

// TargetRing is a fixed set of targets used round-robin so an encoder may
// still read one target while the next frame is rendered into another.
type TargetRing struct {
	targets []*Target
	next    int
}

// NewTargetRing allocates n targets of width x height.
func NewTargetRing(n, width, height int) (*TargetRing, error) {
	if n <= 0 {
		return nil, fmt.Errorf("target ring size must be positive, got %d", n)
	}
	ring := &TargetRing{targets: make([]*Target, n)}
	for i := range ring.targets {
		t, err := NewTarget(width, height)
		if err != nil {
			return nil, err
		}
		ring.targets[i] = t
	}
	return ring, nil
}

// Next returns the next target in rotation.
func (r *TargetRing) Next() *Target {
	t := r.targets[r.next]
	r.next = (r.next + 1) % len(r.targets)
	return t
}

// Len returns the number of targets.
func (r *TargetRing) Len() int {
	return len(r.targets)
}
