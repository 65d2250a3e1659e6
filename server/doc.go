// Package server implements the render server: it keeps one session per
// client, renders the scene carried by each frame request and streams the
// encoded picture back to the requesting endpoint.
//
// Sessions are opened through the control API, normally by the scheduler:
//
//	POST   /v1/sessions       {"version":1,"res_x":640,"res_y":480} -> {"status":0,"session_id":3}
//	GET    /v1/sessions
//	DELETE /v1/sessions/{id}
//	GET    /metrics
//
// A session allocates its scene and render targets on its first valid
// request and is stopped after TimeToEndSession without one.
package server
