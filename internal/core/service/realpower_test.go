package service

import (
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRealPowerSumsOutputs(t *testing.T) {
	require := require.New(t)

	f := newFixture(serialConfig(genericInverter("m1", 600), genericInverter("m2", 400)))
	f.store.Write("m1.output", 200.0, true)
	f.store.Write("m2.output", 300.0, true)

	f.engine.computeRealPower(100)

	v, ok := f.store.Read("rp")
	require.True(ok)
	assert.Equal(t, 600.0, v.Val, "grid plus the summed inverter outputs")
}

func TestComputeRealPowerSubtractsExcessDraw(t *testing.T) {
	f := newFixture(serialConfig(genericInverter("m1", 600)))
	f.store.Write("m1.output", 200.0, true)
	f.engine.excess.draw = 150

	f.engine.computeRealPower(100)

	v, _ := f.store.Read("rp")
	assert.Equal(t, 150.0, v.Val)
}

func TestComputeRealPowerSpikeFilter(t *testing.T) {
	require := require.New(t)

	f := newFixture(serialConfig(genericInverter("m1", 600)))
	f.store.Write("m1.output", 500.0, true)

	f.engine.computeRealPower(100)
	v, ok := f.store.Read("rp")
	require.True(ok)
	require.Equal(600.0, v.Val)

	// a single deep drop is rejected as a meter artifact
	f.engine.computeRealPower(-600)
	v, _ = f.store.Read("rp")
	assert.Equal(t, 600.0, v.Val, "spike must not be published")

	// the same value a second time is a persistent drop and passes
	f.engine.computeRealPower(-600)
	v, _ = f.store.Read("rp")
	assert.Equal(t, -100.0, v.Val)
}

func TestUpdateRealPowerSingleFlight(t *testing.T) {
	require := require.New(t)

	f := newFixture(serialConfig(genericInverter("m1", 600)))
	f.store.Write("m1.output", 200.0, true)

	started := make(chan struct{})
	release := make(chan struct{})
	f.engine.sleep = func(time.Duration) {
		started <- struct{}{}
		<-release
	}

	f.engine.UpdateRealPower(100)
	<-started

	// a second trigger while the first is settling is dropped
	f.engine.UpdateRealPower(9000)
	close(release)

	require.Eventually(func() bool {
		v, ok := f.store.Read("rp")
		return ok && state.Numeric(v.Val) == 300.0
	}, 2*time.Second, 10*time.Millisecond)

	// only the first trigger ran
	v, _ := f.store.Read("rp")
	assert.Equal(t, 300.0, v.Val)
}
