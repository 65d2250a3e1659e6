package video

import (
	"errors"
	"fmt"
	"io"
)

// Encoder turns rendered RGBA pictures into compressed frames.
type Encoder interface {
	// Encode compresses one picture. A nil result with a nil error means the
	// encoder is buffering and has nothing to emit for this picture.
	Encode(rgba []byte) ([]byte, error)
	io.Closer
}

// Decoder turns compressed frames back into RGB24 pictures.
type Decoder interface {
	// Decode writes the picture carried by data into out. It returns false
	// when more input is needed before a picture can be produced, and an
	// error when data cannot be decoded at all.
	Decode(data []byte, out []byte) (bool, error)
	io.Closer
}

// EncoderFactory creates an encoder for pictures of the given size.
type EncoderFactory func(width, height int) (Encoder, error)

// DecoderFactory creates a decoder for pictures of the given size.
type DecoderFactory func(width, height int) (Decoder, error)

// Codec errors.
var (
	// ErrFrameSize indicates a picture buffer of the wrong length.
	ErrFrameSize = errors.New("picture buffer size mismatch")

	// ErrInvalidFrame indicates compressed data that is not a frame.
	ErrInvalidFrame = errors.New("invalid frame data")

	// ErrCodecClosed indicates use after Close.
	ErrCodecClosed = errors.New("codec closed")

	// ErrInvalidDimensions indicates a non-positive or oversized picture size.
	ErrInvalidDimensions = errors.New("invalid picture dimensions")
)

// Resolution represents a picture size.
type Resolution struct {
	Width  int
	Height int
}

// String returns the resolution as "WIDTHxHEIGHT".
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// RGBABytes returns the size of one RGBA picture.
func (r Resolution) RGBABytes() int {
	return r.Width * r.Height * 4
}

// RGBBytes returns the size of one RGB24 picture.
func (r Resolution) RGBBytes() int {
	return r.Width * r.Height * 3
}

// Validate checks that the resolution fits the frame header.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 || r.Width > 0xFFFF || r.Height > 0xFFFF {
		return fmt.Errorf("%w: %s", ErrInvalidDimensions, r)
	}
	return nil
}

// RGBAToRGB drops the alpha channel of src into dst. dst must hold
// len(src)/4*3 bytes.
func RGBAToRGB(dst, src []byte) {
	for i, j := 0, 0; i+3 < len(src); i, j = i+4, j+3 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
	}
}
