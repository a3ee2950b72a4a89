package state

import (
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/internal/core/port"
)

// MemoryHistory records numeric writes of selected states and answers
// trailing-window queries. It stands in for the host's history service on
// installations that do not provide one.
type MemoryHistory struct {
	mu        sync.Mutex
	samples   map[string][]port.HistorySample
	retention time.Duration
	now       func() time.Time
}

func NewMemoryHistory(retention time.Duration) *MemoryHistory {
	return &MemoryHistory{
		samples:   make(map[string][]port.HistorySample),
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the history clock. Used by tests.
func (h *MemoryHistory) WithClock(now func() time.Time) *MemoryHistory {
	h.now = now
	return h
}

// Track subscribes the history to numeric writes of id on store.
func (h *MemoryHistory) Track(store port.StateStore, ids ...string) {
	for _, id := range ids {
		store.Subscribe(id, func(id string, v port.StateValue) {
			h.Record(id, Numeric(v.Val), v.TS)
		})
	}
}

func (h *MemoryHistory) Record(id string, value float64, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	samples := append(h.samples[id], port.HistorySample{Value: value, TS: ts})
	cutoff := h.now().Add(-h.retention)
	start := 0
	for start < len(samples) && samples[start].TS.Before(cutoff) {
		start++
	}
	h.samples[id] = samples[start:]
}

func (h *MemoryHistory) QueryWindow(id string, start, end time.Time, opts port.HistoryOptions) ([]port.HistorySample, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []port.HistorySample
	for _, s := range h.samples[id] {
		if s.TS.Before(start) || s.TS.After(end) {
			continue
		}
		if opts.IgnoreNull && s.Value == 0 {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, nil
	}
	switch opts.Aggregate {
	case "min":
		min := out[0]
		for _, s := range out[1:] {
			if s.Value < min.Value {
				min = s
			}
		}
		return []port.HistorySample{min}, nil
	case "avg":
		var sum float64
		for _, s := range out {
			sum += s.Value
		}
		return []port.HistorySample{{Value: sum / float64(len(out)), TS: out[len(out)-1].TS}}, nil
	default:
		return out, nil
	}
}

// ensure interface compliance
var _ port.HistoryQuerier = (*MemoryHistory)(nil)
