package service

import (
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	realPowerSettleDelay = 5 * time.Second
	// spikeFilterDropW rejects a single update dropping further below the
	// last value than this, treating it as a transient meter artifact.
	spikeFilterDropW = 100
)

type realPowerRun struct {
	inFlight atomic.Bool
	last     float64
	hasLast  bool
}

// UpdateRealPower recomputes the published real power estimate after the
// smart-meter reading changed. Single-flight: an invocation while one is
// still settling is dropped, not queued. The settle delay debounces meter
// chatter before reading device outputs.
func (e *Engine) UpdateRealPower(gridPower float64) {
	if !e.rp.inFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.rp.inFlight.Store(false)
		e.sleep(realPowerSettleDelay)
		e.computeRealPower(gridPower)
	}()
}

func (e *Engine) computeRealPower(gridPower float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.RealPowerStateID == "" {
		return
	}

	var outputs float64
	for i := range e.inverters {
		inv := &e.inverters[i]
		outputs += e.readDeviceWatts(inv, inv.OutputStateID, "invOutputWatts")
	}
	additional, _ := e.feedInAggregate()
	feedIn := outputs + additional

	value := math.Round(gridPower + feedIn - e.excess.draw)

	if e.rp.hasLast && value < e.rp.last-spikeFilterDropW {
		e.logger.Info("real power spike filtered",
			zap.Float64("value", value), zap.Float64("last", e.rp.last))
		// remember the raw value so a persistent drop passes next time
		e.rp.last = value
		return
	}
	e.rp.last = value
	e.rp.hasLast = true
	e.store.Write(e.cfg.RealPowerStateID, value, true)
}
