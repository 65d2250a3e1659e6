package av

import (
	"math/bits"
	"sync/atomic"
)

// MaxHistoryLength is the widest window a DeliveryHistory can report on.
const MaxHistoryLength = 64

// DeliveryHistory is a 64-bit shift register of delivery outcomes, newest in
// the low bit. It starts with every bit set so a fresh session is presumed
// healthy until real outcomes push the ones out.
//
// Record and Rate may be called from different goroutines.
type DeliveryHistory struct {
	bits atomic.Uint64
}

// NewDeliveryHistory returns a history with every outcome marked successful.
func NewDeliveryHistory() *DeliveryHistory {
	h := &DeliveryHistory{}
	h.Reset()
	return h
}

// Reset marks every remembered outcome successful.
func (h *DeliveryHistory) Reset() {
	h.bits.Store(^uint64(0))
}

// Record shifts in one outcome.
func (h *DeliveryHistory) Record(ok bool) {
	var bit uint64
	if ok {
		bit = 1
	}
	for {
		old := h.bits.Load()
		if h.bits.CompareAndSwap(old, old<<1|bit) {
			return
		}
	}
}

// Bits returns the raw register.
func (h *DeliveryHistory) Bits() uint64 {
	return h.bits.Load()
}

// Rate returns the fraction of successes among the last length outcomes.
// length is clamped to 1..64.
func (h *DeliveryHistory) Rate(length int) float64 {
	return HistoryRate(h.bits.Load(), length)
}

// HistoryRate computes popcount(low length bits)/length for a raw register.
func HistoryRate(register uint64, length int) float64 {
	length = clampHistoryLength(length)
	mask := ^uint64(0)
	if length < MaxHistoryLength {
		mask = uint64(1)<<uint(length) - 1
	}
	return float64(bits.OnesCount64(register&mask)) / float64(length)
}

func clampHistoryLength(length int) int {
	if length < 1 {
		return 1
	}
	if length > MaxHistoryLength {
		return MaxHistoryLength
	}
	return length
}
