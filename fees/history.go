package fees

import (
	"math/big"
	"sync"
)

// History tracks recently observed blob base fees in a fixed window and
// flags fee spikes against the moving average. All methods are safe for
// concurrent use.

const (
	// DefaultHistoryWindow is the default number of observations tracked.
	DefaultHistoryWindow = 64

	// spikeThresholdPct flags an observation this many percent of the
	// moving average or above (200 = double the average).
	spikeThresholdPct = 200
)

// feeRecord is one observed blob base fee.
type feeRecord struct {
	block uint64
	fee   *big.Int
}

// History is a circular buffer of blob base fee observations.
type History struct {
	mu      sync.RWMutex
	records []feeRecord
	head    int
	count   int
}

// NewHistory creates a History holding up to window observations.
func NewHistory(window int) *History {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &History{records: make([]feeRecord, window)}
}

// ObserveIsSpike records a fee observation for a block and reports whether
// it is a spike relative to the moving average of prior observations,
// returning the fee/average ratio when it is. Re-observations of the same
// block are ignored.
func (h *History) ObserveIsSpike(block uint64, fee *big.Int) (bool, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count > 0 {
		last := h.records[(h.head+len(h.records)-1)%len(h.records)]
		if last.block == block {
			return false, 0
		}
	}

	avg := h.movingAvgLocked()

	h.records[h.head] = feeRecord{block: block, fee: new(big.Int).Set(fee)}
	h.head = (h.head + 1) % len(h.records)
	if h.count < len(h.records) {
		h.count++
	}

	if avg == nil || avg.Sign() == 0 {
		return false, 0
	}
	// spike iff fee*100 >= avg*threshold
	lhs := new(big.Int).Mul(fee, big.NewInt(100))
	rhs := new(big.Int).Mul(avg, big.NewInt(spikeThresholdPct))
	if lhs.Cmp(rhs) < 0 {
		return false, 0
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(fee), new(big.Float).SetInt(avg)).Float64()
	return true, ratio
}

// Current returns the most recent observation, or nil when empty.
func (h *History) Current() *big.Int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return nil
	}
	last := h.records[(h.head+len(h.records)-1)%len(h.records)]
	return new(big.Int).Set(last.fee)
}

// Len returns the number of valid observations.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// movingAvgLocked computes the average of the recorded fees. Caller holds mu.
func (h *History) movingAvgLocked() *big.Int {
	if h.count == 0 {
		return nil
	}
	sum := new(big.Int)
	for i := 0; i < h.count; i++ {
		idx := (h.head + len(h.records) - 1 - i) % len(h.records)
		sum.Add(sum, h.records[idx].fee)
	}
	return sum.Div(sum, big.NewInt(int64(h.count)))
}
