package state

import (
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryQueryWindowAggregates(t *testing.T) {
	require := require.New(t)

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hist := NewMemoryHistory(time.Hour).WithClock(func() time.Time { return now })

	hist.Record("rp", 300, now.Add(-10*time.Minute))
	hist.Record("rp", 120, now.Add(-5*time.Minute))
	hist.Record("rp", 0, now.Add(-4*time.Minute))
	hist.Record("rp", 210, now.Add(-time.Minute))

	out, err := hist.QueryWindow("rp", now.Add(-15*time.Minute), now, port.HistoryOptions{Aggregate: "min", IgnoreNull: true})
	require.NoError(err)
	require.Len(out, 1)
	assert.Equal(t, 120.0, out[0].Value)

	out, err = hist.QueryWindow("rp", now.Add(-15*time.Minute), now, port.HistoryOptions{Aggregate: "avg", IgnoreNull: true})
	require.NoError(err)
	require.Len(out, 1)
	assert.Equal(t, 210.0, out[0].Value)

	// zero samples count when nulls are kept
	out, err = hist.QueryWindow("rp", now.Add(-15*time.Minute), now, port.HistoryOptions{Aggregate: "min"})
	require.NoError(err)
	require.Len(out, 1)
	assert.Equal(t, 0.0, out[0].Value)
}

func TestHistoryQueryWindowEmpty(t *testing.T) {
	hist := NewMemoryHistory(time.Hour)

	out, err := hist.QueryWindow("rp", time.Now().Add(-time.Hour), time.Now(), port.HistoryOptions{Aggregate: "min"})
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestHistoryRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hist := NewMemoryHistory(10 * time.Minute).WithClock(func() time.Time { return now })

	hist.Record("rp", 100, now.Add(-20*time.Minute))
	hist.Record("rp", 200, now.Add(-5*time.Minute))

	out, err := hist.QueryWindow("rp", now.Add(-time.Hour), now, port.HistoryOptions{})
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 200.0, out[0].Value)
}

func TestHistoryTrack(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore().WithClock(clock)
	hist := NewMemoryHistory(time.Hour).WithClock(clock)
	hist.Track(store, "rp")

	store.Write("rp", 150.0, true)
	now = now.Add(time.Minute)
	store.Write("rp", 250.0, true)

	out, err := hist.QueryWindow("rp", now.Add(-time.Hour), now, port.HistoryOptions{})
	assert.NoError(t, err)
	assert.Len(t, out, 2)
}
