// Package rendercast streams remotely rendered frames to interactive clients
// over UDP.
//
// A client serializes its scene every tick and sends it to one of several
// render servers. Each server applies the scene, renders it, compresses the
// picture and sends it back. The client shows frames after an adaptive
// display delay, so responses from slow or distant servers still arrive in
// time, and it replaces servers whose on-time rate drops too low.
//
// # Roles
//
// Three binaries make up a deployment:
//
//   - cmd/rrclient: captures a scene, issues frame requests round-robin over
//     its sessions and displays the decoded responses in order
//   - cmd/rrserver: opens sessions on request and renders each session's
//     scene through a single dispatch goroutine
//   - cmd/rrscheduler: hands clients a server from its list and opens the
//     session on that server's control API
//
// # Getting Started
//
// Run a scheduler and a server, then point a client at the scheduler:
//
//	cfg := client.DefaultConfig()
//	finder := discovery.NewHTTPFinder("http://127.0.0.1:8080", nil)
//	c, err := client.New(cfg, finder)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.CaptureScene(&scene.Snapshot{Camera: scene.Transform{Position: scene.Vec3{Z: -5}}})
//	go c.Run(ctx)
//
//	frame := make([]byte, c.FrameBytes())
//	for range ticker.C {
//	    if c.TakeFrame(frame) {
//	        show(frame)
//	    }
//	}
//
// # Packages
//
//   - [transport]: frame request and response packets, fragmentation and
//     the UDP session and listener loops
//   - [av]: the frame ring, display buffer, delay controller and timing
//     history shared by the client
//   - [av/video]: frame encoders and decoders
//   - [scene]: the scene wire format, object registry and mesh database
//   - [render]: render targets and the flat reference renderer
//   - [discovery]: the scheduler and the client's server finder
//   - [config]: YAML and environment configuration of the three binaries
//   - [metrics]: Prometheus collectors and HTTP middleware
//
// # Deterministic Testing
//
// The client and server accept an av.TimeProvider so tests can drive
// delays, timeouts and idle sessions without sleeping.
package rendercast
