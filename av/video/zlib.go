package video

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Frame kinds of the DEFLATE codec.
const (
	frameKey   byte = 0x01
	frameDelta byte = 0x02

	// headerSize is kind:uint8 | index:uint32 | width:uint16 | height:uint16.
	headerSize = 9

	// DefaultGOP is the default distance between key frames.
	DefaultGOP = 30
)

// ZlibEncoder compresses RGB24 pictures with DEFLATE.
//
// Every GOP-th picture is a key frame carrying the whole picture; the others
// are delta frames carrying the XOR against the previous picture, which
// compresses well when little changed. Each frame records its index so a
// decoder can tell when it missed the frame a delta refers to.
type ZlibEncoder struct {
	res   Resolution
	gop   int
	index uint32

	current  []byte
	previous []byte
	delta    []byte

	buf    bytes.Buffer
	writer *flate.Writer
	closed bool
	forceK bool
}

// NewZlibEncoder creates an encoder for pictures of width x height.
//
// Parameters:
//   - width, height: Picture size in pixels
//   - gop: Key frame interval (values below 1 select DefaultGOP)
//   - level: DEFLATE level, flate.BestSpeed..flate.BestCompression or flate.DefaultCompression
//
// Returns:
//   - *ZlibEncoder: The encoder
//   - error: If the dimensions or level are invalid
func NewZlibEncoder(width, height, gop, level int) (*ZlibEncoder, error) {
	res := Resolution{Width: width, Height: height}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if gop < 1 {
		gop = DefaultGOP
	}

	e := &ZlibEncoder{
		res:      res,
		gop:      gop,
		current:  make([]byte, res.RGBBytes()),
		previous: make([]byte, res.RGBBytes()),
		delta:    make([]byte, res.RGBBytes()),
	}
	w, err := flate.NewWriter(&e.buf, level)
	if err != nil {
		return nil, fmt.Errorf("deflate writer: %w", err)
	}
	e.writer = w

	logrus.WithFields(logrus.Fields{
		"function":   "NewZlibEncoder",
		"resolution": res.String(),
		"gop":        gop,
		"level":      level,
	}).Debug("Frame encoder created")

	return e, nil
}

// ZlibEncoderFactory returns an EncoderFactory producing ZlibEncoders.
func ZlibEncoderFactory(gop, level int) EncoderFactory {
	return func(width, height int) (Encoder, error) {
		return NewZlibEncoder(width, height, gop, level)
	}
}

// RequestKeyFrame makes the next encoded frame a key frame.
func (e *ZlibEncoder) RequestKeyFrame() {
	e.forceK = true
}

// Encode compresses one RGBA picture.
func (e *ZlibEncoder) Encode(rgba []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrCodecClosed
	}
	if len(rgba) != e.res.RGBABytes() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(rgba), e.res.RGBABytes())
	}

	RGBAToRGB(e.current, rgba)

	kind := frameDelta
	body := e.delta
	if e.forceK || e.index%uint32(e.gop) == 0 {
		kind = frameKey
		body = e.current
		e.forceK = false
	} else {
		for i := range e.delta {
			e.delta[i] = e.current[i] ^ e.previous[i]
		}
	}

	e.buf.Reset()
	var header [headerSize]byte
	header[0] = kind
	binary.LittleEndian.PutUint32(header[1:5], e.index)
	binary.LittleEndian.PutUint16(header[5:7], uint16(e.res.Width))
	binary.LittleEndian.PutUint16(header[7:9], uint16(e.res.Height))
	e.buf.Write(header[:])

	e.writer.Reset(&e.buf)
	if _, err := e.writer.Write(body); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := e.writer.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	e.previous, e.current = e.current, e.previous
	e.index++

	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

// Close releases the encoder.
func (e *ZlibEncoder) Close() error {
	e.closed = true
	return nil
}

// ZlibDecoder reverses ZlibEncoder.
type ZlibDecoder struct {
	res       Resolution
	reference []byte
	body      []byte
	lastIndex uint32
	hasRef    bool
	reader    io.ReadCloser
	closed    bool
}

// NewZlibDecoder creates a decoder for pictures of width x height.
func NewZlibDecoder(width, height int) (*ZlibDecoder, error) {
	res := Resolution{Width: width, Height: height}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &ZlibDecoder{
		res:       res,
		reference: make([]byte, res.RGBBytes()),
		body:      make([]byte, res.RGBBytes()),
		reader:    flate.NewReader(bytes.NewReader(nil)),
	}, nil
}

// ZlibDecoderFactory returns a DecoderFactory producing ZlibDecoders.
func ZlibDecoderFactory() DecoderFactory {
	return func(width, height int) (Decoder, error) {
		return NewZlibDecoder(width, height)
	}
}

// Decode writes the RGB24 picture carried by data into out.
//
// A delta frame that does not directly follow the last decoded frame cannot
// be reconstructed; Decode returns false until the next key frame arrives.
func (d *ZlibDecoder) Decode(data []byte, out []byte) (bool, error) {
	if d.closed {
		return false, ErrCodecClosed
	}
	if len(out) != d.res.RGBBytes() {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(out), d.res.RGBBytes())
	}
	if len(data) < headerSize {
		return false, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(data))
	}

	kind := data[0]
	index := binary.LittleEndian.Uint32(data[1:5])
	width := int(binary.LittleEndian.Uint16(data[5:7]))
	height := int(binary.LittleEndian.Uint16(data[7:9]))
	if width != d.res.Width || height != d.res.Height {
		return false, fmt.Errorf("%w: frame is %dx%d, decoder is %s", ErrInvalidFrame, width, height, d.res)
	}
	if kind != frameKey && kind != frameDelta {
		return false, fmt.Errorf("%w: kind %#x", ErrInvalidFrame, kind)
	}
	if kind == frameDelta && (!d.hasRef || index != d.lastIndex+1) {
		return false, nil
	}

	if err := d.reader.(flate.Resetter).Reset(bytes.NewReader(data[headerSize:]), nil); err != nil {
		return false, fmt.Errorf("inflate: %w", err)
	}
	if _, err := io.ReadFull(d.reader, d.body); err != nil {
		d.hasRef = false
		return false, fmt.Errorf("%w: inflate: %v", ErrInvalidFrame, err)
	}

	if kind == frameKey {
		copy(d.reference, d.body)
	} else {
		for i := range d.reference {
			d.reference[i] ^= d.body[i]
		}
	}
	d.lastIndex = index
	d.hasRef = true

	copy(out, d.reference)
	return true, nil
}

// Close releases the decoder.
func (d *ZlibDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.reader.Close()
}
