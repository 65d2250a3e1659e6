// Package render defines the renderer used by the server and ships a small
// software implementation.
//
// A Renderer draws a scene.Scene into an RGBA Target. The server keeps a
// TargetRing per session so the encoder can read a finished frame while
// the next one is drawn.
package render
