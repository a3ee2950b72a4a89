package service

import (
	"math"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/gridpilot/gridpilot/internal/state"

	"go.uber.org/zap"
)

const (
	// pvBasePadW is the fixed per-inverter pad added to each PV reading so
	// the PV factor never collapses for inverters reporting 0 W at dawn.
	pvBasePadW = 10

	extraPowerCeilingW = 300
	extraPowerStepW    = 10

	serialGapThresholdW   = 20
	balancedGapThresholdW = 10

	gapWaitWindow        = 60 * time.Second
	forcedRewriteAfter   = 60 * time.Second
	prioritySettleWindow = 60 * time.Second

	// deviceReadingMaxAge bounds how old a device telemetry reading may be
	// before it is treated as "no data".
	deviceReadingMaxAge = 5 * time.Minute
)

// Engine is the closed-loop power regulator. One instance owns the
// per-inverter runtime table; RunCycle and UpdateRealPower are the only
// entry points and serialize on the engine mutex.
type Engine struct {
	cfg    config.RegulationConfig
	helper *state.Helper
	store  port.StateStore
	hist   port.HistoryQuerier
	vendor port.VendorGateway
	logger *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)

	mu        sync.Mutex
	rt        map[string]*domain.InverterRuntime
	inverters []domain.InverterConfig

	// cross-cycle regulation globals
	batteryDemand float64
	gapWaitSince  time.Time
	offApplied    bool

	excess excessRun
	rp     realPowerRun
}

func NewEngine(cfg config.RegulationConfig, helper *state.Helper, hist port.HistoryQuerier,
	vendor port.VendorGateway, logger *zap.Logger) *Engine {

	e := &Engine{
		cfg:    cfg,
		helper: helper,
		store:  helper.Store(),
		hist:   hist,
		vendor: vendor,
		logger: logger.With(zap.String("component", "regulation")),
		now:    time.Now,
		sleep:  time.Sleep,
		rt:     make(map[string]*domain.InverterRuntime),
	}
	for _, inv := range cfg.Inverters {
		if !inv.Regulate {
			continue
		}
		e.inverters = append(e.inverters, inv)
		e.rt[inv.ID] = &domain.InverterRuntime{}
	}
	return e
}

// WithClock overrides the engine clock and settle sleep. Used by tests.
func (e *Engine) WithClock(now func() time.Time, sleep func(time.Duration)) *Engine {
	e.now = now
	e.sleep = sleep
	return e
}

// Enabled reads the host-editable enabled flag. An unconfigured or absent
// flag means enabled.
func (e *Engine) Enabled() bool {
	if e.cfg.EnabledStateID == "" {
		return true
	}
	v, ok := e.helper.ReadNumber(e.cfg.EnabledStateID)
	if !ok {
		return true
	}
	return v != 0
}

// RunCycle executes one regulation cycle. Safe to invoke on a fixed timer;
// no-ops quickly when disabled or when required configuration is absent.
func (e *Engine) RunCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MeterStateID == "" {
		return
	}
	if !e.Enabled() {
		e.applyDisabledPolicy()
		return
	}
	e.offApplied = false

	now := e.now()

	// grid read with stale fallback
	meterTimeout := time.Duration(e.cfg.MeterTimeoutSeconds) * time.Second
	grid, ts := e.helper.ReadFresh(e.cfg.MeterStateID, meterTimeout)
	if ts.IsZero() {
		e.logger.Warn("smart meter reading stale or absent, using fallback",
			zap.Float64("fallback", e.cfg.MeterFallbackWatts))
		grid = e.cfg.MeterFallbackWatts
	}
	if e.cfg.GridPowerStateID != "" {
		e.store.Write(e.cfg.GridPowerStateID, grid, true)
	}

	for i := range e.inverters {
		inv := &e.inverters[i]
		e.prepass(inv, e.rt[inv.ID], now)
	}

	lowest, ok := e.lowestRealPower(now)
	if !ok {
		e.logger.Warn("no real power data yet, skipping cycle")
		return
	}

	feedIn, feedInPV := e.feedInAggregate()

	target := lowest - e.cfg.BaseOffsetWatts
	for _, inv := range e.inverters {
		rt := e.rt[inv.ID]
		if !rt.Active && rt.Output > 0 {
			// excluded but still feeding
			target -= rt.Output
		}
	}
	target -= feedIn

	var gapTotal float64
	for _, inv := range e.inverters {
		rt := e.rt[inv.ID]
		if rt.Active {
			gapTotal += rt.GapAvg
		}
	}
	if gapTotal > target {
		gapTotal = target
	}
	if gapTotal < 0 {
		gapTotal = 0
	}

	totalPV := feedInPV
	var socSum float64
	for _, inv := range e.inverters {
		rt := e.rt[inv.ID]
		if !rt.Active {
			continue
		}
		totalPV += rt.PV + pvBasePadW
		socSum += rt.SOC
	}

	batteryDemand := math.Max(0, target-totalPV)
	pvDemand := math.Min(target, totalPV)
	pvFactor := 0.0
	if totalPV > 0 {
		pvFactor = pvDemand / totalPV
	}
	batFactor := 1.0
	if socSum > 0 {
		batFactor = batteryDemand / socSum
	}
	e.batteryDemand = batteryDemand

	surplus := math.Max(0, -target-e.cfg.BaseOffsetWatts)

	e.logger.Debug("cycle computed",
		zap.Float64("grid", grid), zap.Float64("lowest", lowest),
		zap.Float64("target", target), zap.Float64("gapTotal", gapTotal),
		zap.Float64("totalPV", totalPV), zap.Float64("pvFactor", pvFactor),
		zap.Float64("batFactor", batFactor), zap.Float64("surplus", surplus))

	if e.cfg.Strategy == "serial" {
		e.distributeSerial(target, gapTotal)
	} else {
		e.distributeBalanced(target, gapTotal, pvFactor, batFactor, now)
	}

	e.runExcessCharge(surplus, now)
}

// applyDisabledPolicy commands each inverter's off behavior exactly once
// per disable: a fixed wattage for offPower >= 0, vendor priority mode for
// offPower == -2.
func (e *Engine) applyDisabledPolicy() {
	if e.offApplied {
		return
	}
	e.offApplied = true
	for i := range e.inverters {
		inv := &e.inverters[i]
		rt := e.rt[inv.ID]
		switch {
		case inv.OffPower >= 0:
			e.command(inv, rt, inv.OffPower, 0)
		case inv.OffPower == -2:
			e.setPriority(inv, rt, true)
		}
		rt.FullPower = false
	}
}

// lowestRealPower takes the minimum or average of the published real power
// over the trailing window; falls back to the current value when no
// history is available, and reports false when even that is absent.
func (e *Engine) lowestRealPower(now time.Time) (float64, bool) {
	if e.cfg.RealPowerStateID == "" {
		return 0, false
	}
	window := time.Duration(e.cfg.LowestWindowMinutes) * time.Minute
	if window > 0 && e.hist != nil {
		samples, err := e.hist.QueryWindow(e.cfg.RealPowerStateID, now.Add(-window), now,
			port.HistoryOptions{Aggregate: e.cfg.LowestMode, IgnoreNull: true})
		if err != nil {
			e.logger.Warn("history query failed, treating as no data", zap.Error(err))
		} else if len(samples) > 0 {
			if e.cfg.LowestMode == "avg" {
				var sum float64
				for _, s := range samples {
					sum += s.Value
				}
				return sum / float64(len(samples)), true
			}
			low := samples[0].Value
			for _, s := range samples[1:] {
				if s.Value < low {
					low = s.Value
				}
			}
			return low, true
		}
	}
	if v, ok := e.helper.ReadNumber(e.cfg.RealPowerStateID); ok {
		return v, true
	}
	return 0, false
}

// feedInAggregate returns the rolling-window aggregate of the additional
// non-regulated feed-in sources, split into the feed-in total and the
// PV-factor contribution per the per-source exclusion flags.
func (e *Engine) feedInAggregate() (feedIn, pvShare float64) {
	window := time.Duration(e.cfg.FeedInWindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	for _, src := range e.cfg.FeedInSources {
		v, ok := e.helper.ReadNumber(src.StateID)
		if !ok {
			continue
		}
		w := v*src.Factor + src.Offset
		avg := e.helper.RollingAverage("feedin."+src.StateID, w, window)
		if !src.ExcludeFeedIn {
			feedIn += avg
		}
		if !src.ExcludePV {
			pvShare += avg
		}
	}
	return feedIn, pvShare
}

// effectiveMax is the inverter maximum honoring a low-battery override.
func (e *Engine) effectiveMax(inv *domain.InverterConfig, rt *domain.InverterRuntime) float64 {
	if rt.TempMaxPower > 0 && rt.TempMaxPower < inv.MaxPower {
		return rt.TempMaxPower
	}
	return inv.MaxPower
}

// command writes a set-point to the device, suppressed when unchanged
// unless forceAfter has elapsed since the last write. Vendor devices go
// through the gateway, generic devices through their command state.
func (e *Engine) command(inv *domain.InverterConfig, rt *domain.InverterRuntime, watts float64, forceAfter time.Duration) {
	w := math.Round(watts)
	if w < 0 {
		w = 0
	}
	now := e.now()
	if !rt.LastWrite.IsZero() && w == rt.LastCommanded {
		if forceAfter <= 0 || now.Sub(rt.LastWrite) < forceAfter {
			return
		}
	}

	if inv.Family == domain.FamilyVendor {
		if e.vendor == nil || !e.vendor.Connected() {
			e.logger.Warn("set-point dropped, vendor gateway not connected",
				zap.String("inverter", inv.ID))
			return
		}
		if err := e.vendor.SetPoint(inv.Serial, w); err != nil {
			e.logger.Warn("set-point failed", zap.String("inverter", inv.ID), zap.Error(err))
			return
		}
	} else if inv.CommandStateID != "" {
		e.helper.ConditionalWrite(inv.CommandStateID, w, false, true, forceAfter, 0)
	}

	e.store.Write("regulation."+inv.ID+".setpoint", w, true)
	rt.LastCommanded = w
	rt.LastWrite = now
	e.logger.Debug("set-point written", zap.String("inverter", inv.ID), zap.Float64("watts", w))
}

// setPriority switches the device's battery priority mode.
func (e *Engine) setPriority(inv *domain.InverterConfig, rt *domain.InverterRuntime, on bool) {
	if inv.Family == domain.FamilyVendor {
		if e.vendor == nil || !e.vendor.Connected() {
			return
		}
		if err := e.vendor.SetPriority(inv.Serial, on); err != nil {
			e.logger.Warn("priority switch failed", zap.String("inverter", inv.ID), zap.Error(err))
			return
		}
	} else if inv.PriorityStateID != "" {
		e.helper.ConditionalWrite(inv.PriorityStateID, on, false, true, 0, 0)
	}
	if on {
		rt.PrioritySince = e.now()
	}
}

// orderForCycle returns the regulated inverters in configured or reversed
// order.
func (e *Engine) orderForCycle() []domain.InverterConfig {
	if !e.cfg.ReverseOrder {
		return e.inverters
	}
	out := make([]domain.InverterConfig, len(e.inverters))
	for i := range e.inverters {
		out[len(e.inverters)-1-i] = e.inverters[i]
	}
	return out
}
