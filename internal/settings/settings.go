// Package settings holds the guard thresholds shared by the loop and the
// dashboard. A Thresholds value is never mutated after it is stored; updates
// replace the whole value.
package settings

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// MinCheckInterval is the shortest interval the loop will sleep between cycles.
const MinCheckInterval = time.Second

type Thresholds struct {
	TakeProfit    decimal.Decimal
	StopLoss      decimal.Decimal
	CheckInterval time.Duration
	whitelist     map[string]struct{}
}

func New(takeProfit, stopLoss decimal.Decimal, interval time.Duration, whitelist []string) Thresholds {
	t := Thresholds{
		TakeProfit:    takeProfit,
		StopLoss:      stopLoss,
		CheckInterval: interval,
	}
	if len(whitelist) > 0 {
		t.whitelist = make(map[string]struct{}, len(whitelist))
		for _, s := range whitelist {
			t.whitelist[s] = struct{}{}
		}
	}
	return t
}

// Allows reports whether symbol passes the whitelist. No whitelist allows all.
func (t Thresholds) Allows(symbol string) bool {
	if t.whitelist == nil {
		return true
	}
	_, ok := t.whitelist[symbol]
	return ok
}

func (t Thresholds) Whitelist() []string {
	out := make([]string, 0, len(t.whitelist))
	for s := range t.whitelist {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// WithLimits returns a copy with new take-profit, stop-loss and interval.
// The whitelist map is shared since neither copy writes to it.
func (t Thresholds) WithLimits(takeProfit, stopLoss decimal.Decimal, interval time.Duration) Thresholds {
	t.TakeProfit = takeProfit
	t.StopLoss = stopLoss
	t.CheckInterval = interval
	return t
}

// Interval is CheckInterval clamped to MinCheckInterval.
func (t Thresholds) Interval() time.Duration {
	if t.CheckInterval < MinCheckInterval {
		return MinCheckInterval
	}
	return t.CheckInterval
}

// Holder publishes the current Thresholds to concurrent readers.
type Holder struct {
	current atomic.Pointer[Thresholds]
}

func NewHolder(initial Thresholds) *Holder {
	h := &Holder{}
	h.Store(initial)
	return h
}

// Load returns a copy of the current thresholds.
func (h *Holder) Load() Thresholds {
	return *h.current.Load()
}

func (h *Holder) Store(t Thresholds) {
	h.current.Store(&t)
}

// Update applies fn to the current value and stores the result. Concurrent
// updates retry until one wins.
func (h *Holder) Update(fn func(Thresholds) Thresholds) Thresholds {
	for {
		old := h.current.Load()
		next := fn(*old)
		if h.current.CompareAndSwap(old, &next) {
			return next
		}
	}
}
