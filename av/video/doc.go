// Package video defines the frame codec contract used between render servers
// and clients, and ships a small lossless codec implementing it.
//
// # Codec Contract
//
// Servers encode rendered RGBA pictures; clients decode into RGB24 buffers
// owned by the frame ring:
//
//	enc, err := video.NewZlibEncoder(1280, 720, video.DefaultGOP, flate.BestSpeed)
//	frame, err := enc.Encode(rgba)     // nil, nil while buffering
//
//	dec, err := video.NewZlibDecoder(1280, 720)
//	ok, err := dec.Decode(frame, rgb)  // false: needs a key frame first
//
// # DEFLATE Codec
//
// Each frame starts with a 9-byte header (kind, frame index, width, height)
// followed by a DEFLATE stream. Key frames carry the whole RGB24 picture and
// delta frames the XOR against the previous picture. A decoder that missed a
// frame returns false for every delta until the next key frame.
package video
