package port

import "time"

type HistorySample struct {
	Value float64
	TS    time.Time
}

type HistoryOptions struct {
	// Aggregate selects how the host condenses the window: "min", "avg"
	// or "" for raw samples.
	Aggregate  string
	IgnoreNull bool
}

// HistoryQuerier is the host's time-series query service. A timeout must
// be reported as an error and treated by callers as "no data".
type HistoryQuerier interface {
	QueryWindow(id string, start, end time.Time, opts HistoryOptions) ([]HistorySample, error)
}
