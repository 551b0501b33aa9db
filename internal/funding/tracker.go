// Package funding tracks the latest funding rate per symbol and caches each
// symbol's settlement interval. The tracker is the single source the
// settlement scheduler reads when deciding which symbols qualify.
package funding

import (
	"sync"
	"time"

	"latencyflow/models"
)

// SymbolState is a point-in-time view of one tracked symbol.
type SymbolState struct {
	Symbol        string    `json:"symbol"`
	Rate          float64   `json:"rate"`
	IntervalH     int       `json:"interval_hours"`
	HasInterval   bool      `json:"has_interval"`
	LastIntervalFetch time.Time `json:"last_interval_fetch"`
}

// Tracker holds latest-wins funding rates and cached intervals. The rate map
// is written by the funding stream consumer and read by the scheduler; the
// interval map is additionally written by the off-thread fetch worker, so
// all access is mutex guarded.
type Tracker struct {
	mu        sync.RWMutex
	rates     map[string]float64
	intervals map[string]int
	fetched   map[string]time.Time
	order     []string // first-seen order, keeps iteration deterministic
}

func NewTracker() *Tracker {
	return &Tracker{
		rates:     make(map[string]float64),
		intervals: make(map[string]int),
		fetched:   make(map[string]time.Time),
	}
}

// Update overwrites the latest rate for a symbol. Symbols are never removed.
func (t *Tracker) Update(symbol string, rate float64) {
	t.mu.Lock()
	if _, seen := t.rates[symbol]; !seen {
		t.order = append(t.order, symbol)
	}
	t.rates[symbol] = rate
	t.mu.Unlock()
}

// Apply updates the tracker from one funding feed batch.
func (t *Tracker) Apply(batch []models.FundingUpdate) {
	t.mu.Lock()
	for _, u := range batch {
		if u.Symbol == "" {
			continue
		}
		if _, seen := t.rates[u.Symbol]; !seen {
			t.order = append(t.order, u.Symbol)
		}
		t.rates[u.Symbol] = u.Rate
	}
	t.mu.Unlock()
}

// Rate returns the latest rate for a symbol.
func (t *Tracker) Rate(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[symbol]
	return r, ok
}

// Size reports how many symbols have been seen so far.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rates)
}

// QualifyingSymbols returns all symbols whose rate is below threshold, in
// first-seen order.
func (t *Tracker) QualifyingSymbols(threshold float64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, sym := range t.order {
		if t.rates[sym] < threshold {
			out = append(out, sym)
		}
	}
	return out
}

// MostNegative returns the symbol with the minimum rate. Ties break to the
// symbol seen first.
func (t *Tracker) MostNegative() (string, float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.order) == 0 {
		return "", 0, false
	}
	best := ""
	bestRate := 0.0
	found := false
	for _, sym := range t.order {
		r := t.rates[sym]
		if !found || r < bestRate {
			best, bestRate, found = sym, r, true
		}
	}
	return best, bestRate, found
}

// Interval returns the cached funding interval in hours for a symbol.
func (t *Tracker) Interval(symbol string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.intervals[symbol]
	return h, ok
}

// SetIntervals caches fetched intervals. Entries absent from the new map
// keep their previous value so a partial response never erases the cache.
func (t *Tracker) SetIntervals(intervals map[string]int, fetchedAt time.Time) {
	t.mu.Lock()
	for sym, h := range intervals {
		if h <= 0 {
			continue
		}
		t.intervals[sym] = h
		t.fetched[sym] = fetchedAt
	}
	t.mu.Unlock()
}

// MissingInterval reports whether any of the given symbols has no cached
// interval yet.
func (t *Tracker) MissingInterval(symbols []string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sym := range symbols {
		if _, ok := t.intervals[sym]; !ok {
			return true
		}
	}
	return false
}

// Snapshot returns the state of all symbols below threshold, in first-seen
// order, for reporting.
func (t *Tracker) Snapshot(threshold float64) []SymbolState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []SymbolState
	for _, sym := range t.order {
		r := t.rates[sym]
		if r >= threshold {
			continue
		}
		h, ok := t.intervals[sym]
		out = append(out, SymbolState{
			Symbol:            sym,
			Rate:              r,
			IntervalH:         h,
			HasInterval:       ok,
			LastIntervalFetch: t.fetched[sym],
		})
	}
	return out
}
