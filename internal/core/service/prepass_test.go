package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *engineFixture) runPrepass(invIdx int) {
	inv := &f.engine.inverters[invIdx]
	f.engine.prepass(inv, f.engine.rt[inv.ID], f.now)
}

func TestBatteryFullPriorityAndRecovery(t *testing.T) {
	require := require.New(t)

	inv := vendorInverter("v1", "PSAAA", 600)
	inv.BattFullOnPct = 98
	inv.BattFullOffPct = 95
	inv.OffSwitchesPriority = true
	f := newFixture(serialConfig(inv))
	rt := f.engine.rt["v1"]

	f.gw.setField("PSAAA", "batSoc", 99)
	f.runPrepass(0)

	require.NotEmpty(f.gw.priorities["PSAAA"])
	assert.True(t, f.gw.priorities["PSAAA"][0], "full battery switches to priority mode")
	assert.True(t, rt.TempPriorityOff)
	assert.False(t, rt.Active, "excluded from distribution while full")

	// hysteresis: below the on threshold but above the off threshold the
	// inverter stays excluded
	f.now = f.now.Add(2 * time.Minute)
	f.gw.setField("PSAAA", "batSoc", 96)
	f.runPrepass(0)
	assert.False(t, rt.Active)
	assert.True(t, rt.TempPriorityOff)

	// below the off threshold the inverter recovers
	f.gw.setField("PSAAA", "batSoc", 94)
	f.runPrepass(0)
	assert.True(t, rt.Active)
	assert.False(t, rt.TempPriorityOff)
	last := f.gw.priorities["PSAAA"][len(f.gw.priorities["PSAAA"])-1]
	assert.False(t, last, "priority mode switched back off")
}

func TestBatteryFullPinsWithoutPrioritySupport(t *testing.T) {
	inv := genericInverter("m1", 600)
	inv.BattFullOnPct = 98
	inv.BattFullOffPct = 95
	f := newFixture(serialConfig(inv))
	rt := f.engine.rt["m1"]

	f.store.Write("m1.soc", 99.0, true)
	f.runPrepass(0)

	w, ok := f.commanded("m1")
	require.True(t, ok)
	assert.Equal(t, 600.0, w, "pinned to max power when priority is unavailable")
	assert.True(t, rt.FullPower)
	assert.False(t, rt.Active)

	// no re-send while the pin holds
	setpoint, _ := f.store.Read("regulation.m1.setpoint")
	f.now = f.now.Add(time.Minute)
	f.store.Write("m1.soc", 96.0, true)
	f.runPrepass(0)
	v, _ := f.store.Read("regulation.m1.setpoint")
	assert.Equal(t, setpoint.TS, v.TS)

	// recovery clears the pin
	f.store.Write("m1.soc", 94.0, true)
	f.runPrepass(0)
	assert.False(t, rt.FullPower)
	assert.True(t, rt.Active)
}

func TestBatteryFullDemandGuard(t *testing.T) {
	inv := vendorInverter("v1", "PSAAA", 600)
	inv.BattFullOnPct = 98
	inv.BattFullOffPct = 95
	inv.OffSwitchesPriority = true
	inv.OffDemandThreshold = 300
	f := newFixture(serialConfig(inv))

	f.gw.setField("PSAAA", "batSoc", 99)
	f.engine.batteryDemand = 500
	f.runPrepass(0)

	assert.Empty(t, f.gw.priorities["PSAAA"],
		"priority stays off while the house demand exceeds the threshold")
	assert.False(t, f.engine.rt["v1"].Active)

	// demand dropped, priority engages
	f.engine.batteryDemand = 100
	f.runPrepass(0)
	assert.NotEmpty(t, f.gw.priorities["PSAAA"])
}

func TestLowBatteryCap(t *testing.T) {
	inv := genericInverter("m1", 600)
	inv.LowBatLimitOnPct = 10
	inv.LowBatLimitOffPct = 15
	inv.LowBatLimitWatts = 100
	f := newFixture(serialConfig(inv))
	rt := f.engine.rt["m1"]

	f.store.Write("m1.soc", 8.0, true)
	f.runPrepass(0)
	assert.Equal(t, 100.0, rt.TempMaxPower)
	assert.Equal(t, 100.0, f.engine.effectiveMax(&f.engine.inverters[0], rt))

	// hysteresis: between the thresholds the cap holds
	f.store.Write("m1.soc", 12.0, true)
	f.runPrepass(0)
	assert.Equal(t, 100.0, rt.TempMaxPower)

	f.store.Write("m1.soc", 16.0, true)
	f.runPrepass(0)
	assert.Equal(t, 0.0, rt.TempMaxPower)
	assert.Equal(t, 600.0, f.engine.effectiveMax(&f.engine.inverters[0], rt))
}

func TestExtraChargeRampUpAndDown(t *testing.T) {
	require := require.New(t)

	inv := genericInverter("m1", 400)
	f := newFixture(serialConfig(inv))
	rt := f.engine.rt["m1"]

	f.store.Write("m1.soc", 50.0, true)
	// charging within the base offset of max power triggers the allowance
	f.store.Write("m1.charge", -400.0, true)

	f.runPrepass(0)
	assert.Equal(t, 10.0, rt.ExtraPower)
	assert.False(t, rt.Active, "allowance-commanded inverter leaves distribution")
	w, ok := f.commanded("m1")
	require.True(ok)
	assert.Equal(t, 10.0, w)

	// the allowance ramps in fixed steps up to the ceiling; the device
	// keeps reporting the charge each cycle, as heartbeats would
	for i := 0; i < 40; i++ {
		f.now = f.now.Add(15 * time.Second)
		f.store.Write("m1.charge", -400.0, true)
		f.runPrepass(0)
	}
	assert.Equal(t, 300.0, rt.ExtraPower)
	w, _ = f.commanded("m1")
	assert.Equal(t, 300.0, w)

	// trigger cleared: ramp back down and re-admit at zero
	for i := 0; i < 29; i++ {
		f.now = f.now.Add(15 * time.Second)
		f.store.Write("m1.charge", 0.0, true)
		f.runPrepass(0)
		assert.False(t, rt.Active)
	}
	f.now = f.now.Add(15 * time.Second)
	f.runPrepass(0)
	assert.Equal(t, 0.0, rt.ExtraPower)
	assert.True(t, rt.Active, "fully ramped down, back in distribution")
}

func TestExtraChargeRampDownOnDemand(t *testing.T) {
	inv := genericInverter("m1", 400)
	f := newFixture(serialConfig(inv))
	rt := f.engine.rt["m1"]
	rt.ExtraPower = 100

	f.store.Write("m1.soc", 50.0, true)
	f.store.Write("m1.charge", -400.0, true)
	// the house outgrew the allowance
	f.engine.batteryDemand = 250

	f.runPrepass(0)
	assert.Equal(t, 90.0, rt.ExtraPower, "demand above the allowance ramps it down")
	assert.False(t, rt.Active)
}

func TestPrepassGapTracking(t *testing.T) {
	inv := genericInverter("m1", 600)
	f := newFixture(serialConfig(inv))
	rt := f.engine.rt["m1"]

	// before the first command the gap is zero
	f.runPrepass(0)
	assert.Equal(t, 0.0, rt.GapAvg)

	// command 300, device only delivers 200: gap 100
	f.engine.command(&f.engine.inverters[0], rt, 300, 0)
	f.store.Write("m1.output", 200.0, true)
	f.now = f.now.Add(15 * time.Second)
	f.runPrepass(0)
	assert.Equal(t, 100.0, rt.Gap)
	assert.Equal(t, 50.0, rt.GapAvg, "average over the sliding window")
}
