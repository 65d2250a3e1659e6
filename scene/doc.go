// Package scene defines the scene snapshot carried in every frame request
// and the server-side scene it is applied to.
//
// A snapshot is little-endian binary:
//
//	camera transform   6 x float32 (position, Euler rotation)
//	object count       int32
//	objects            count x (id int32 | type uint8 | payload)
//
// Object payloads are selected by type tag through a Registry. Mesh (tag 0)
// carries a transform and a configuration id resolved through a Database.
// Light (tag 1) carries a transform, RGB color, intensity, kind and the
// kind-specific parameters.
//
// Scene.Apply is all-or-nothing: a malformed snapshot leaves the previous
// scene in place.
package scene
