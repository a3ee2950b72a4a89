package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/internal/core/port"

	"go.uber.org/zap"
)

type avgSample struct {
	value float64
	ts    time.Time
}

// Helper wraps the host state store with the staleness and
// rewrite-suppression policies shared by the regulation engine and the
// protocol bridge, and keeps the named rolling-average series.
type Helper struct {
	store  port.StateStore
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	series map[string][]avgSample
}

func NewHelper(store port.StateStore, logger *zap.Logger) *Helper {
	return &Helper{
		store:  store,
		logger: logger.With(zap.String("component", "statehelper")),
		now:    time.Now,
		series: make(map[string][]avgSample),
	}
}

// WithClock overrides the helper clock. Used by tests.
func (h *Helper) WithClock(now func() time.Time) *Helper {
	h.now = now
	return h
}

func (h *Helper) Store() port.StateStore {
	return h.store
}

// ConditionalWrite writes id unless suppression applies: with changeOnly
// set, an unchanged value is skipped until rewriteAfter has elapsed since
// the last write; a changed value is skipped while the last actual change
// is younger than minChangeAge (hardware-protection debounce). A state
// without a prior value is always written.
func (h *Helper) ConditionalWrite(id string, value any, ack, changeOnly bool, rewriteAfter, minChangeAge time.Duration) bool {
	prev, ok := h.store.Read(id)
	if !ok {
		h.store.Write(id, value, ack)
		return true
	}
	now := h.now()
	if changeOnly && prev.Val == value {
		if rewriteAfter <= 0 || now.Sub(prev.TS) < rewriteAfter {
			return false
		}
	}
	if prev.Val != value && minChangeAge > 0 && now.Sub(prev.LastChange) < minChangeAge {
		h.logger.Debug("write suppressed, last change too recent",
			zap.String("id", id), zap.Duration("age", now.Sub(prev.LastChange)))
		return false
	}
	h.store.Write(id, value, ack)
	return true
}

// ReadFresh returns the numeric value and timestamp of id, or the zero
// sentinel when the state is absent or older than maxAge. Callers must
// treat the sentinel as "no data", not as a legitimate zero reading.
func (h *Helper) ReadFresh(id string, maxAge time.Duration) (float64, time.Time) {
	v, ok := h.store.Read(id)
	if !ok {
		return 0, time.Time{}
	}
	if maxAge > 0 && h.now().Sub(v.TS) > maxAge {
		return 0, time.Time{}
	}
	return Numeric(v.Val), v.TS
}

// ReadNumber returns the numeric value of id regardless of age.
func (h *Helper) ReadNumber(id string) (float64, bool) {
	v, ok := h.store.Read(id)
	if !ok {
		return 0, false
	}
	return Numeric(v.Val), true
}

// RollingAverage appends a timestamped sample to the named series, evicts
// samples older than window and returns the arithmetic mean.
func (h *Helper) RollingAverage(label string, value float64, window time.Duration) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	samples := append(h.series[label], avgSample{value: value, ts: now})
	cutoff := now.Add(-window)
	start := 0
	for start < len(samples) && samples[start].ts.Before(cutoff) {
		start++
	}
	samples = samples[start:]
	h.series[label] = samples

	var sum float64
	for _, s := range samples {
		sum += s.value
	}
	return sum / float64(len(samples))
}

// Numeric coerces a stored value to float64. The store does not type-check
// values, so bool, string and every numeric width must be handled.
func Numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
