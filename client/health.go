package client

import "time"

// healthTracker counts down a session's grace time while its on-time rate
// is below the requirement. Only the control loop touches it.
type healthTracker struct {
	timeToKill  time.Duration
	requirement float64
	remaining   time.Duration
}

func newHealthTracker(timeToKill time.Duration, requirement float64) healthTracker {
	return healthTracker{
		timeToKill:  timeToKill,
		requirement: requirement,
		remaining:   timeToKill,
	}
}

// check applies one control tick. A healthy rate resets the grace time;
// otherwise elapsed is subtracted. It reports whether the session should be
// evicted.
func (h *healthTracker) check(rate float64, elapsed time.Duration) bool {
	if rate >= h.requirement {
		h.remaining = h.timeToKill
		return false
	}
	h.remaining -= elapsed
	return h.remaining <= 0
}
