package service

import (
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balancedConfig(invs ...domain.InverterConfig) config.RegulationConfig {
	cfg := serialConfig(invs...)
	cfg.Strategy = "balanced"
	return cfg
}

func TestBalancedProportionalSplit(t *testing.T) {
	require := require.New(t)

	f := newFixture(balancedConfig(
		vendorInverter("a", "PSAAA", 600),
		vendorInverter("b", "PSBBB", 600)))

	// PV 300 W and 100 W, identical SOC, surplus PV covers the target
	f.gw.setField("PSAAA", "pv1InputWatts", 3000)
	f.gw.setField("PSAAA", "batSoc", 50)
	f.gw.setField("PSBBB", "pv1InputWatts", 1000)
	f.gw.setField("PSBBB", "batSoc", 50)
	f.setMeterAndRealPower(100, 205)

	f.engine.RunCycle()

	// target 200, PV pool (300+10)+(100+10)=420, battery demand 0
	wa, ok := f.gw.lastSetpoint("PSAAA")
	require.True(ok)
	wb, ok := f.gw.lastSetpoint("PSBBB")
	require.True(ok)
	assert.Equal(t, 148.0, wa)
	assert.Equal(t, 52.0, wb)
	assert.Equal(t, 200.0, wa+wb, "the full target is placed")
}

func TestBalancedBatteryDemandSplit(t *testing.T) {
	require := require.New(t)

	f := newFixture(balancedConfig(
		vendorInverter("a", "PSAAA", 600),
		vendorInverter("b", "PSBBB", 600)))

	// no PV at all: the whole target is battery demand, split by SOC
	f.gw.setField("PSAAA", "batSoc", 75)
	f.gw.setField("PSBBB", "batSoc", 25)
	f.setMeterAndRealPower(100, 405)

	f.engine.RunCycle()

	// target 400, PV pool 20, battery demand 380 over SOC sum 100
	wa, ok := f.gw.lastSetpoint("PSAAA")
	require.True(ok)
	wb, ok := f.gw.lastSetpoint("PSBBB")
	require.True(ok)
	assert.Greater(t, wa, wb, "higher SOC carries more of the demand")
	assert.Equal(t, 400.0, wa+wb)
}

func TestBalancedSpillToNextInverter(t *testing.T) {
	require := require.New(t)

	f := newFixture(balancedConfig(
		vendorInverter("a", "PSAAA", 100),
		vendorInverter("b", "PSBBB", 600)))

	f.gw.setField("PSAAA", "pv1InputWatts", 3000)
	f.gw.setField("PSAAA", "batSoc", 50)
	f.gw.setField("PSBBB", "pv1InputWatts", 1000)
	f.gw.setField("PSBBB", "batSoc", 50)
	f.setMeterAndRealPower(100, 205)

	f.engine.RunCycle()

	wa, ok := f.gw.lastSetpoint("PSAAA")
	require.True(ok)
	wb, ok := f.gw.lastSetpoint("PSBBB")
	require.True(ok)
	assert.Equal(t, 100.0, wa, "overflow clamps at the inverter maximum")
	assert.Equal(t, 100.0, wb, "the clamped overflow spills to the next inverter")
}

func TestBalancedGapCompensation(t *testing.T) {
	f := newFixture(balancedConfig(vendorInverter("a", "PSAAA", 600)))
	rt := f.engine.rt["a"]
	rt.Active = true
	rt.GapAvg = 5
	rt.Gap = 2

	f.engine.distributeBalanced(200, 50, 0, 0, f.now)

	w, ok := f.gw.lastSetpoint("PSAAA")
	require.True(t, ok)
	assert.Equal(t, 48.0, w, "fast responder absorbs the fleet gap minus its own")
	assert.False(t, f.engine.gapWaitSince.IsZero(), "gap wait window opened")
}

func TestBalancedGapCompensationSkipsLaggingInverter(t *testing.T) {
	f := newFixture(balancedConfig(vendorInverter("a", "PSAAA", 600)))
	rt := f.engine.rt["a"]
	rt.Active = true
	rt.GapAvg = 30
	rt.Gap = 30

	f.engine.distributeBalanced(200, 50, 0, 0, f.now)

	w, ok := f.gw.lastSetpoint("PSAAA")
	require.True(t, ok)
	assert.Equal(t, 0.0, w, "lagging inverter gets no gap boost")
}

func TestBalancedGapWaitWindowCloses(t *testing.T) {
	f := newFixture(balancedConfig(vendorInverter("a", "PSAAA", 600)))
	rt := f.engine.rt["a"]
	rt.Active = true

	// open the window with a real gap
	f.engine.distributeBalanced(200, 50, 0, 0, f.now)
	require.False(t, f.engine.gapWaitSince.IsZero())

	// gap resolved but the window is still open
	f.now = f.now.Add(30 * time.Second)
	f.engine.distributeBalanced(200, 0, 0, 0, f.now)
	assert.False(t, f.engine.gapWaitSince.IsZero())

	// window elapsed with no gap, reset
	f.now = f.now.Add(31 * time.Second)
	f.engine.distributeBalanced(200, 0, 0, 0, f.now)
	assert.True(t, f.engine.gapWaitSince.IsZero())
}

func TestSerialGapBoost(t *testing.T) {
	f := newFixture(serialConfig(genericInverter("m1", 800)))
	rt := f.engine.rt["m1"]
	rt.Active = true

	f.engine.distributeSerial(500, 50)

	w, ok := f.commanded("m1")
	require.True(t, ok)
	assert.Equal(t, 550.0, w, "low-gap inverter receives the gap total on top")
}

func TestSerialSkipsInactive(t *testing.T) {
	f := newFixture(serialConfig(genericInverter("m1", 800), genericInverter("m2", 800)))
	f.engine.rt["m1"].Active = false
	f.engine.rt["m2"].Active = true

	f.engine.distributeSerial(300, 0)

	_, ok := f.commanded("m1")
	assert.False(t, ok)
	w, _ := f.commanded("m2")
	assert.Equal(t, 300.0, w)
}
