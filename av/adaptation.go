package av

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DelayConfig defines the adaptive display-delay parameters.
//
// The delay is the time between issuing a frame request and folding its slot.
// It grows when too few frames arrive in time and shrinks again when nearly
// all of them do, but never below SatisfyingDelay by shortening alone.
type DelayConfig struct {
	FrameRate    int // Frames issued per second (default: 30)
	RingCapacity int // Frames in flight; bounds the maximum delay (default: 5)

	HistoryLength int // Outcomes considered by the rate (1..64, default: 32)
	AdjustPeriod  int // Folds between two evaluations (default: 10)

	LengthenThreshold float64 // On-time rate below which the delay grows (default: 0.9)
	ShortenThreshold  float64 // On-time rate above which the delay shrinks (default: 0.98)

	Increment       time.Duration // Step applied per evaluation (default: 5ms)
	SatisfyingDelay time.Duration // Shortening stops at or below this delay (default: 50ms)
}

// DefaultDelayConfig returns configuration matching the shipped client config.
func DefaultDelayConfig() DelayConfig {
	return DelayConfig{
		FrameRate:         30,
		RingCapacity:      5,
		HistoryLength:     32,
		AdjustPeriod:      10,
		LengthenThreshold: 0.9,
		ShortenThreshold:  0.98,
		Increment:         5 * time.Millisecond,
		SatisfyingDelay:   50 * time.Millisecond,
	}
}

// Validate checks the parts of the configuration the controller cannot run without.
// Thresholds are not checked here: shorten <= lengthen makes the controller
// oscillate but is left to the caller.
func (c DelayConfig) Validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFrameRate, c.FrameRate)
	}
	if c.RingCapacity < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.RingCapacity)
	}
	if c.HistoryLength < 1 || c.HistoryLength > MaxHistoryLength {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryLength, c.HistoryLength)
	}
	return nil
}

// InitialDelay is half the ring's time span: 500*capacity/frameRate ms.
func (c DelayConfig) InitialDelay() time.Duration {
	return time.Duration(500*c.RingCapacity/c.FrameRate) * time.Millisecond
}

// MaxDelay keeps a slot alive until its fold: 1000*(capacity-1)/frameRate ms.
func (c DelayConfig) MaxDelay() time.Duration {
	return time.Duration(1000*(c.RingCapacity-1)/c.FrameRate) * time.Millisecond
}

// TickInterval is the send period, 1000/frameRate ms.
func (c DelayConfig) TickInterval() time.Duration {
	return time.Duration(1000/c.FrameRate) * time.Millisecond
}

// DelayController owns the global on-time history and the delay budget.
//
// Every fold records one outcome. Every AdjustPeriod outcomes the on-time
// rate over HistoryLength is evaluated: below LengthenThreshold the delay
// grows by Increment, above ShortenThreshold (and above SatisfyingDelay) it
// shrinks by Increment. The result is always clamped to [0, MaxDelay].
type DelayController struct {
	mu     sync.RWMutex
	config DelayConfig

	history     *DeliveryHistory
	countdown   int
	delay       time.Duration
	maxDelay    time.Duration
	onTimeRate  float64
	adjustments uint64

	delayCb func(time.Duration)
}

// NewDelayController creates a controller starting at the initial delay.
//
// Parameters:
//   - config: Delay parameters (use DefaultDelayConfig())
//
// Returns:
//   - *DelayController: The new controller
//   - error: If the frame rate, ring capacity or history length is invalid
func NewDelayController(config DelayConfig) (*DelayController, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dc := &DelayController{
		config:     config,
		history:    NewDeliveryHistory(),
		countdown:  config.AdjustPeriod,
		delay:      config.InitialDelay(),
		maxDelay:   config.MaxDelay(),
		onTimeRate: 1,
	}
	dc.delay = dc.clamp(dc.delay)

	logrus.WithFields(logrus.Fields{
		"function":      "NewDelayController",
		"initial_delay": dc.delay,
		"max_delay":     dc.maxDelay,
		"frame_rate":    config.FrameRate,
		"ring_capacity": config.RingCapacity,
	}).Info("Delay controller created")

	return dc, nil
}

// OnDelayChange registers a callback invoked synchronously whenever the
// budget changes. It must not call back into the controller.
func (dc *DelayController) OnDelayChange(cb func(time.Duration)) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.delayCb = cb
}

// Record folds one outcome into the global history and, at the end of an
// adjustment period, re-evaluates the delay.
//
// Parameters:
//   - onTime: Whether the frame's response had arrived by its deadline
//
// Returns:
//   - bool: Whether the delay budget changed
func (dc *DelayController) Record(onTime bool) bool {
	dc.mu.Lock()

	dc.history.Record(onTime)
	before := dc.delay

	dc.countdown--
	if dc.countdown <= 0 {
		dc.countdown += dc.config.AdjustPeriod
		if dc.countdown <= 0 {
			dc.countdown = 1
		}
		dc.evaluate()
	}

	dc.delay = dc.clamp(dc.delay)
	changed := dc.delay != before
	delay, cb := dc.delay, dc.delayCb
	dc.mu.Unlock()

	if changed {
		logrus.WithFields(logrus.Fields{
			"function":     "DelayController.Record",
			"old_delay":    before,
			"new_delay":    delay,
			"on_time_rate": dc.OnTimeRate(),
		}).Debug("Display delay adjusted")
		if cb != nil {
			cb(delay)
		}
	}
	return changed
}

// evaluate applies one adjustment step. Caller holds dc.mu.
func (dc *DelayController) evaluate() {
	dc.onTimeRate = dc.history.Rate(dc.config.HistoryLength)

	switch {
	case dc.onTimeRate < dc.config.LengthenThreshold:
		dc.delay += dc.config.Increment
		dc.adjustments++
	case dc.onTimeRate > dc.config.ShortenThreshold && dc.delay > dc.config.SatisfyingDelay:
		dc.delay -= dc.config.Increment
		dc.adjustments++
	}
}

func (dc *DelayController) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > dc.maxDelay {
		return dc.maxDelay
	}
	return d
}

// Delay returns the current display delay.
func (dc *DelayController) Delay() time.Duration {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.delay
}

// MaxDelay returns the upper clamp of the delay.
func (dc *DelayController) MaxDelay() time.Duration {
	return dc.maxDelay
}

// OnTimeRate returns the rate computed at the last evaluation (1 before the first).
func (dc *DelayController) OnTimeRate() float64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.onTimeRate
}

// Rate returns the current on-time rate over the configured history length.
func (dc *DelayController) Rate() float64 {
	return dc.history.Rate(dc.config.HistoryLength)
}

// Config returns the controller configuration.
func (dc *DelayController) Config() DelayConfig {
	return dc.config
}

// Adjustments returns how many evaluations moved the delay.
func (dc *DelayController) Adjustments() uint64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.adjustments
}
