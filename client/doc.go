// Package client implements the rendering client: it streams serialized
// scene snapshots to a pool of render servers and displays the frames they
// return.
//
// Every 1/FrameRate seconds the client allocates a sequence number and sends
// the current scene to the next session in round-robin order. Each issued
// frame is folded once the display delay has passed: a decoded frame is
// published to the display buffer, and whether any response arrived feeds
// the adaptive delay controller and the owning session's on-time history.
// Sessions that stay below the on-time requirement for too long are closed
// and their server is never requested again.
//
// Example:
//
//	finder := discovery.NewHTTPFinder("scheduler:50051", nil)
//	c, err := client.New(client.DefaultConfig(), finder)
//	if err != nil {
//		log.Fatal(err)
//	}
//	go c.Run(ctx)
//	c.CaptureScene(snapshot)
//	if c.TakeFrame(pixels) {
//		present(pixels)
//	}
package client
