// Package av implements the client-side jitter handling for remote-rendered
// frames.
//
// # Architecture
//
// A client issues one frame request per tick and folds each frame a fixed
// display delay later. Between issue and fold the frame lives in a slot of the
// FrameRing:
//
//	Idle --Begin--> Pending --Complete(ok)--> Ready  --Consume--> Idle
//	                        --Complete(!ok)-> Failed --Consume--> Idle
//	                        --Consume (late)--------------------> Idle
//
// Responses for sequences that have left the ring's window are rejected
// without touching any slot. A fold of a Ready slot publishes its pixels to the
// DisplayBuffer.
//
// # Adaptive Delay
//
// Every fold records whether a response had arrived in time (Ready or Failed)
// into the DelayController's DeliveryHistory. Every AdjustPeriod folds the
// on-time rate is evaluated and the delay lengthened or shortened by one
// increment, clamped to [0, MaxDelay]:
//
//	controller, err := av.NewDelayController(av.DefaultDelayConfig())
//	if err != nil {
//	    return err
//	}
//	changed := controller.Record(state.Arrived())
//	next := controller.Delay()
//
// With a ring of 5 slots at 30 frames per second the delay starts at 83ms and
// never exceeds 133ms.
//
// # Sub-Packages
//
//   - av/video: frame codec contract and the DEFLATE-based codec
package av
