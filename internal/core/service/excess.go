package service

import (
	"math"
	"time"

	"go.uber.org/zap"
)

type excessState int

const (
	excessIdle excessState = iota
	excessRampingOn
	excessActive
	excessRampingOff
)

// excessRun is the runtime of the excess-charge controller: a secondary
// on/off plus power-trim loop for a load absorbing feed-in surplus.
type excessRun struct {
	state excessState
	since time.Time
	// draw is the power currently commanded to the load, fed back into the
	// real power estimate while active.
	draw float64
}

// runExcessCharge advances the controller one step using the surplus just
// computed by the distribution pass. SOC gates: no (re)activation at or
// above the max threshold, forced deactivation of an active session at or
// above the off threshold. All hardware writes go through the suppression
// helper with the configured minimum re-trigger spacing.
func (e *Engine) runExcessCharge(surplus float64, now time.Time) {
	cfg := e.cfg.ExcessCharge
	if cfg.SwitchStateID == "" {
		return
	}

	soc, hasSOC := 0.0, false
	if cfg.SOCStateID != "" {
		soc, hasSOC = e.helper.ReadNumber(cfg.SOCStateID)
	}
	minSpace := time.Duration(cfg.MinRetriggerSeconds) * time.Second

	switch e.excess.state {
	case excessIdle:
		if surplus <= cfg.StartThresholdWatts {
			return
		}
		if hasSOC && soc >= cfg.SOCMaxPct {
			return
		}
		e.excess.state = excessRampingOn
		e.excess.since = now
		e.logger.Info("excess charge ramping on", zap.Float64("surplus", surplus))

	case excessRampingOn:
		if surplus <= cfg.StopThresholdWatts || (hasSOC && soc >= cfg.SOCMaxPct) {
			e.excess.state = excessIdle
			return
		}
		if now.Sub(e.excess.since) < time.Duration(cfg.StartDelaySeconds)*time.Second {
			return
		}
		if e.helper.ConditionalWrite(cfg.SwitchStateID, true, false, true, 0, minSpace) {
			e.excess.state = excessActive
			e.logger.Info("excess charge on")
		}

	case excessActive:
		if surplus <= cfg.StopThresholdWatts || (hasSOC && soc >= cfg.SOCOffPct) {
			e.excess.state = excessRampingOff
			return
		}
		p := math.Min(cfg.MaxPowerWatts, surplus) + cfg.OffsetWatts
		if cfg.StepWatts > 0 {
			p = math.Floor(p/cfg.StepWatts) * cfg.StepWatts
		}
		if p < 0 {
			p = 0
		}
		if cfg.PowerStateID != "" {
			e.helper.ConditionalWrite(cfg.PowerStateID, p, false, true, 0, minSpace)
		}
		e.excess.draw = p

	case excessRampingOff:
		if e.helper.ConditionalWrite(cfg.SwitchStateID, false, false, true, 0, minSpace) {
			if cfg.PowerStateID != "" {
				e.helper.ConditionalWrite(cfg.PowerStateID, 0.0, false, true, 0, 0)
			}
			e.excess.draw = 0
			e.excess.state = excessIdle
			e.logger.Info("excess charge off")
		}
	}
}
