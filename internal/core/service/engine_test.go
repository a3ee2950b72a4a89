package service

import (
	"sync"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway records set-point and priority calls and serves auxiliary
// fields in raw protocol units.
type fakeGateway struct {
	mu         sync.Mutex
	connected  bool
	fields     map[string]map[string]float64
	setpoints  map[string][]float64
	priorities map[string][]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		connected:  true,
		fields:     make(map[string]map[string]float64),
		setpoints:  make(map[string][]float64),
		priorities: make(map[string][]bool),
	}
}

func (g *fakeGateway) setField(serial, field string, v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fields[serial] == nil {
		g.fields[serial] = make(map[string]float64)
	}
	g.fields[serial][field] = v
}

func (g *fakeGateway) ReadAuxiliaryField(serial, field string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.fields[serial][field]
	return v, ok
}

func (g *fakeGateway) SetPoint(serial string, watts float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setpoints[serial] = append(g.setpoints[serial], watts)
	return nil
}

func (g *fakeGateway) SetPriority(serial string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.priorities[serial] = append(g.priorities[serial], on)
	return nil
}

func (g *fakeGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) lastSetpoint(serial string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := g.setpoints[serial]
	if len(calls) == 0 {
		return 0, false
	}
	return calls[len(calls)-1], true
}

type engineFixture struct {
	engine *Engine
	store  *state.MemoryStore
	helper *state.Helper
	hist   *state.MemoryHistory
	gw     *fakeGateway
	now    time.Time
}

func newFixture(cfg config.RegulationConfig) *engineFixture {
	f := &engineFixture{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.store = state.NewMemoryStore().WithClock(clock)
	f.helper = state.NewHelper(f.store, zap.NewNop()).WithClock(clock)
	f.hist = state.NewMemoryHistory(time.Hour).WithClock(clock)
	f.gw = newFakeGateway()
	f.engine = NewEngine(cfg, f.helper, f.hist, f.gw, zap.NewNop()).
		WithClock(clock, func(time.Duration) {})
	return f
}

func genericInverter(id string, maxPower float64) domain.InverterConfig {
	return domain.InverterConfig{
		ID:             id,
		Family:         domain.FamilyGeneric,
		MaxPower:       maxPower,
		HasBattery:     true,
		Regulate:       true,
		OutputStateID:  id + ".output",
		SOCStateID:     id + ".soc",
		PVStateID:      id + ".pv",
		CommandStateID: id + ".cmd",
		ChargeStateID:  id + ".charge",
	}
}

func vendorInverter(id, serial string, maxPower float64) domain.InverterConfig {
	return domain.InverterConfig{
		ID:         id,
		Family:     domain.FamilyVendor,
		Serial:     serial,
		MaxPower:   maxPower,
		HasBattery: true,
		Regulate:   true,
	}
}

func serialConfig(invs ...domain.InverterConfig) config.RegulationConfig {
	return config.RegulationConfig{
		EnabledStateID:      "regulation.enabled",
		MeterStateID:        "meter",
		RealPowerStateID:    "rp",
		GridPowerStateID:    "grid",
		BaseOffsetWatts:     5,
		MeterTimeoutSeconds: 300,
		MeterFallbackWatts:  50,
		LowestMode:          "min",
		Strategy:            "serial",
		Inverters:           invs,
	}
}

func (f *engineFixture) setMeterAndRealPower(grid, realPower float64) {
	f.store.Write("meter", grid, true)
	f.store.Write("rp", realPower, true)
}

func (f *engineFixture) commanded(id string) (float64, bool) {
	v, ok := f.store.Read("regulation." + id + ".setpoint")
	if !ok {
		return 0, false
	}
	return state.Numeric(v.Val), true
}

func TestRunCycleSerialFullAllocation(t *testing.T) {
	require := require.New(t)

	f := newFixture(serialConfig(genericInverter("m1", 600), genericInverter("m2", 400)))
	f.setMeterAndRealPower(200, 1005)

	f.engine.RunCycle()

	w, ok := f.commanded("m1")
	require.True(ok)
	assert.Equal(t, 600.0, w)
	w, ok = f.commanded("m2")
	require.True(ok)
	assert.Equal(t, 400.0, w)

	// the generic command states carry the same values
	v, _ := f.store.Read("m1.cmd")
	assert.Equal(t, 600.0, v.Val)
	v, _ = f.store.Read("m2.cmd")
	assert.Equal(t, 400.0, v.Val)

	// grid mirror follows the meter
	v, _ = f.store.Read("grid")
	assert.Equal(t, 200.0, v.Val)
}

func TestRunCycleSerialScarcity(t *testing.T) {
	require := require.New(t)

	f := newFixture(serialConfig(genericInverter("m1", 600), genericInverter("m2", 400)))
	f.setMeterAndRealPower(50, 305)

	f.engine.RunCycle()

	w, ok := f.commanded("m1")
	require.True(ok)
	assert.Equal(t, 300.0, w, "first inverter takes the whole target")
	w, ok = f.commanded("m2")
	require.True(ok)
	assert.Equal(t, 0.0, w)
}

func TestRunCycleNoBatteryPinnedOnce(t *testing.T) {
	require := require.New(t)

	nb := genericInverter("nb", 800)
	nb.HasBattery = false
	f := newFixture(serialConfig(nb, genericInverter("m1", 600)))
	f.setMeterAndRealPower(10, 205)

	f.engine.RunCycle()

	w, ok := f.commanded("nb")
	require.True(ok)
	assert.Equal(t, 800.0, w, "battery-less inverter is pinned to max power")
	w, _ = f.commanded("m1")
	assert.Equal(t, 200.0, w)

	pinned, _ := f.store.Read("nb.cmd")

	// second cycle: the pin is not re-sent, and the pinned inverter's
	// measured output reduces the shared target
	f.now = f.now.Add(30 * time.Second)
	f.store.Write("nb.output", 800.0, true)
	f.setMeterAndRealPower(10, 205)
	f.engine.RunCycle()

	v, _ := f.store.Read("nb.cmd")
	assert.Equal(t, pinned.TS, v.TS, "pin must not be rewritten")
	w, _ = f.commanded("m1")
	assert.Equal(t, 0.0, w, "target is consumed by the pinned inverter's output")
}

func TestRunCycleMeterFallback(t *testing.T) {
	f := newFixture(serialConfig(genericInverter("m1", 600)))
	// no meter state at all, no real power either

	f.engine.RunCycle()

	v, ok := f.store.Read("grid")
	require.True(t, ok)
	assert.Equal(t, 50.0, v.Val, "fallback watts substitute the missing meter")

	_, ok = f.commanded("m1")
	assert.False(t, ok, "cycle must stop without real power data")
}

func TestRunCycleStaleMeterUsesFallback(t *testing.T) {
	f := newFixture(serialConfig(genericInverter("m1", 600)))
	f.setMeterAndRealPower(200, 105)

	f.now = f.now.Add(301 * time.Second)
	f.store.Write("rp", 105.0, true)
	f.engine.RunCycle()

	v, _ := f.store.Read("grid")
	assert.Equal(t, 50.0, v.Val)
}

func TestRunCycleDisabledPolicy(t *testing.T) {
	require := require.New(t)

	m1 := genericInverter("m1", 600)
	m1.OffPower = 100
	v1 := vendorInverter("v1", "PSAAA", 600)
	v1.OffPower = -2
	f := newFixture(serialConfig(m1, v1))
	f.store.Write("regulation.enabled", false, true)
	f.setMeterAndRealPower(200, 505)

	f.engine.RunCycle()

	w, ok := f.commanded("m1")
	require.True(ok)
	assert.Equal(t, 100.0, w, "fixed off wattage applied")
	require.Len(f.gw.priorities["PSAAA"], 1)
	assert.True(t, f.gw.priorities["PSAAA"][0], "priority mode is the off policy")

	// the policy fires once per disable, not per cycle
	f.now = f.now.Add(time.Minute)
	f.engine.RunCycle()
	assert.Len(t, f.gw.priorities["PSAAA"], 1)

	// re-enabling resumes normal distribution
	f.store.Write("regulation.enabled", true, true)
	f.setMeterAndRealPower(200, 505)
	f.engine.RunCycle()
	w, _ = f.commanded("m1")
	assert.Equal(t, 500.0, w)
}

func TestRunCycleFeedInReducesTarget(t *testing.T) {
	cfg := serialConfig(genericInverter("m1", 800))
	cfg.FeedInSources = []domain.FeedInSource{{StateID: "ext.pv", Factor: 1}}
	cfg.FeedInWindowSeconds = 60
	f := newFixture(cfg)
	f.store.Write("ext.pv", 100.0, true)
	f.setMeterAndRealPower(200, 505)

	f.engine.RunCycle()

	w, _ := f.commanded("m1")
	assert.Equal(t, 400.0, w, "additional feed-in is subtracted from the target")
}

func TestRunCycleLowestFromHistory(t *testing.T) {
	cfg := serialConfig(genericInverter("m1", 800))
	cfg.LowestWindowMinutes = 2
	f := newFixture(cfg)
	f.store.Write("meter", 100.0, true)

	f.hist.Record("rp", 400, f.now.Add(-90*time.Second))
	f.hist.Record("rp", 350, f.now.Add(-60*time.Second))
	f.hist.Record("rp", 500, f.now.Add(-10*time.Second))

	f.engine.RunCycle()

	w, _ := f.commanded("m1")
	assert.Equal(t, 345.0, w, "minimum of the trailing window minus base offset")
}

func TestRunCycleLowestAverageMode(t *testing.T) {
	cfg := serialConfig(genericInverter("m1", 800))
	cfg.LowestWindowMinutes = 2
	cfg.LowestMode = "avg"
	f := newFixture(cfg)
	f.store.Write("meter", 100.0, true)

	f.hist.Record("rp", 300, f.now.Add(-90*time.Second))
	f.hist.Record("rp", 500, f.now.Add(-30*time.Second))

	f.engine.RunCycle()

	w, _ := f.commanded("m1")
	assert.Equal(t, 395.0, w)
}

func TestEnabledDefaults(t *testing.T) {
	f := newFixture(serialConfig(genericInverter("m1", 600)))

	assert.True(t, f.engine.Enabled(), "absent flag means enabled")

	f.store.Write("regulation.enabled", false, true)
	assert.False(t, f.engine.Enabled())

	f.store.Write("regulation.enabled", true, true)
	assert.True(t, f.engine.Enabled())

	noFlag := newFixture(config.RegulationConfig{Strategy: "serial", LowestMode: "min"})
	assert.True(t, noFlag.engine.Enabled(), "unconfigured flag means enabled")
}

func TestVendorSetPointViaGateway(t *testing.T) {
	require := require.New(t)

	f := newFixture(serialConfig(vendorInverter("v1", "PSAAA", 600)))
	f.gw.setField("PSAAA", "batSoc", 50)
	f.setMeterAndRealPower(100, 305)

	f.engine.RunCycle()

	w, ok := f.gw.lastSetpoint("PSAAA")
	require.True(ok)
	assert.Equal(t, 300.0, w)

	// gateway down: set-point is dropped, runtime keeps the old value
	f.gw.mu.Lock()
	f.gw.connected = false
	f.gw.mu.Unlock()
	f.setMeterAndRealPower(100, 505)
	f.now = f.now.Add(30 * time.Second)
	f.engine.RunCycle()
	assert.Len(t, f.gw.setpoints["PSAAA"], 1)
}

func TestOrderForCycleReverse(t *testing.T) {
	cfg := serialConfig(genericInverter("m1", 600), genericInverter("m2", 400))
	cfg.ReverseOrder = true
	f := newFixture(cfg)
	f.setMeterAndRealPower(50, 305)

	f.engine.RunCycle()

	w, _ := f.commanded("m2")
	assert.Equal(t, 300.0, w, "reverse order serves m2 first")
	w, _ = f.commanded("m1")
	assert.Equal(t, 0.0, w)
}

func TestRunCycleWithoutMeterStateIsNoop(t *testing.T) {
	cfg := serialConfig(genericInverter("m1", 600))
	cfg.MeterStateID = ""
	f := newFixture(cfg)
	f.store.Write("rp", 500.0, true)

	f.engine.RunCycle()

	_, ok := f.commanded("m1")
	assert.False(t, ok)
}
