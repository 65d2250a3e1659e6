package av

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C at a fixed period until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer delivers one tick on C after its duration.
type Timer interface {
	C() <-chan time.Time
	// Stop prevents the timer from firing and reports whether it was active.
	Stop() bool
}

// TimeProvider supplies the clock, tickers and timers used by the client and
// server loops. Tests inject a MockTimeProvider to drive delays, health
// countdowns and idle timeouts without sleeping.
type TimeProvider interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

// DefaultTimeProvider is the system clock.
type DefaultTimeProvider struct{}

// Now returns the current system time.
func (DefaultTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker.
func (DefaultTimeProvider) NewTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

// NewTimer wraps time.NewTimer.
func (DefaultTimeProvider) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

type systemTimer struct{ t *time.Timer }

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

// GetTimeProvider returns tp when set, otherwise the system clock.
func GetTimeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return DefaultTimeProvider{}
}

// MockTimeProvider is a manual clock. Time only moves on Advance or Set,
// which fire every ticker and timer whose deadline has passed. Like the
// system versions, a tick is dropped when the previous one was not received.
//
// Usage for deterministic testing:
//
//	clock := av.NewMockTimeProvider(time.Unix(1000, 0))
//	c, _ := client.New(cfg, finder, client.WithTimeProvider(clock))
//	clock.Advance(cfg.TimeToKill)
type MockTimeProvider struct {
	mu      sync.Mutex
	now     time.Time
	waiters map[*mockWaiter]struct{}
}

type mockWaiter struct {
	clock    *MockTimeProvider
	deadline time.Time
	period   time.Duration
	ch       chan time.Time
}

// NewMockTimeProvider creates a clock starting at start.
func NewMockTimeProvider(start time.Time) *MockTimeProvider {
	return &MockTimeProvider{now: start, waiters: make(map[*mockWaiter]struct{})}
}

// Now returns the mock's current time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker returns a ticker firing every d of mock time.
func (m *MockTimeProvider) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("av: non-positive interval for NewTicker")
	}
	return mockTicker{m.add(d, d)}
}

// NewTimer returns a timer firing once after d of mock time.
func (m *MockTimeProvider) NewTimer(d time.Duration) Timer {
	w := m.add(d, 0)
	if d <= 0 {
		w.stop()
		w.ch <- m.Now()
	}
	return mockTimer{w}
}

func (m *MockTimeProvider) add(d, period time.Duration) *mockWaiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &mockWaiter{clock: m, deadline: m.now.Add(d), period: period, ch: make(chan time.Time, 1)}
	m.waiters[w] = struct{}{}
	return w
}

// Advance moves the clock forward by d.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	now := m.now.Add(d)
	m.mu.Unlock()
	m.Set(now)
}

// Set moves the clock to t and fires everything due by then.
func (m *MockTimeProvider) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	for w := range m.waiters {
		if w.deadline.After(t) {
			continue
		}
		select {
		case w.ch <- t:
		default:
		}
		if w.period == 0 {
			delete(m.waiters, w)
			continue
		}
		for !w.deadline.After(t) {
			w.deadline = w.deadline.Add(w.period)
		}
	}
}

// Waiters returns the number of active tickers and timers. Tests use it to
// wait until a loop has started before advancing the clock.
func (m *MockTimeProvider) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (w *mockWaiter) stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	_, active := w.clock.waiters[w]
	delete(w.clock.waiters, w)
	return active
}

type mockTicker struct{ w *mockWaiter }

func (t mockTicker) C() <-chan time.Time { return t.w.ch }
func (t mockTicker) Stop()               { t.w.stop() }

type mockTimer struct{ w *mockWaiter }

func (t mockTimer) C() <-chan time.Time { return t.w.ch }
func (t mockTimer) Stop() bool          { return t.w.stop() }
