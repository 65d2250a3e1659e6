package av

import "sync"

// DisplayBuffer hands the latest folded picture to the presentation side.
// Only the newest picture is kept; a consumer that falls behind skips frames.
type DisplayBuffer struct {
	mu        sync.Mutex
	pixels    []byte
	fresh     bool
	published uint64
}

// NewDisplayBuffer creates a buffer for pictures of pixelBytes bytes.
func NewDisplayBuffer(pixelBytes int) *DisplayBuffer {
	return &DisplayBuffer{pixels: make([]byte, pixelBytes)}
}

// Publish copies pixels into the buffer and raises the new-frame flag.
func (d *DisplayBuffer) Publish(pixels []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pixels) != len(pixels) {
		d.pixels = make([]byte, len(pixels))
	}
	copy(d.pixels, pixels)
	d.fresh = true
	d.published++
}

// Take copies the latest picture into dst if one was published since the
// last Take and clears the flag. It reports whether dst was updated.
func (d *DisplayBuffer) Take(dst []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.fresh {
		return false
	}
	copy(dst, d.pixels)
	d.fresh = false
	return true
}

// Published returns how many pictures were published in total.
func (d *DisplayBuffer) Published() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.published
}
