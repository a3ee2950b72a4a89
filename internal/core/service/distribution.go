package service

import (
	"time"

	"go.uber.org/zap"
)

// distributeSerial hands the remaining target to each inverter in turn.
// An inverter whose rolling lag-gap average sits below the threshold also
// receives the cycle gap total before clamping, compensating the fleet's
// reaction lag through the fastest responders.
func (e *Engine) distributeSerial(target, gapTotal float64) {
	remaining := target
	if remaining < 0 {
		remaining = 0
	}
	for _, inv := range e.orderForCycle() {
		inv := inv
		rt := e.rt[inv.ID]
		if !rt.Active {
			continue
		}
		share := remaining
		if rt.GapAvg < serialGapThresholdW {
			share += gapTotal
		}
		if maxP := e.effectiveMax(&inv, rt); share > maxP {
			share = maxP
		}
		if share < 0 {
			share = 0
		}
		e.command(&inv, rt, share, 0)
		remaining -= share
		if remaining < 0 {
			remaining = 0
		}
	}
}

// distributeBalanced splits the target proportionally to each inverter's
// PV and SOC contribution. Overflow over an inverter's maximum spills to
// the next one in iteration order; spill persists across temporarily
// excluded inverters within the pass.
func (e *Engine) distributeBalanced(target, gapTotal, pvFactor, batFactor float64, now time.Time) {
	if target < 0 {
		target = 0
	}

	gapComp := gapTotal > balancedGapThresholdW
	if gapComp && e.gapWaitSince.IsZero() {
		e.gapWaitSince = now
	}
	gapWaitOpen := !e.gapWaitSince.IsZero() && now.Sub(e.gapWaitSince) < gapWaitWindow
	if !gapComp && !gapWaitOpen {
		e.gapWaitSince = time.Time{}
	}

	var spill float64
	for _, inv := range e.orderForCycle() {
		inv := inv
		rt := e.rt[inv.ID]
		if !rt.Active {
			continue
		}

		share := (rt.PV+pvBasePadW)*pvFactor + rt.SOC*batFactor
		if share > target {
			share = target
		}
		if rt.GapAvg < balancedGapThresholdW && (gapComp || gapWaitOpen) {
			share += gapTotal - rt.Gap
		}

		maxP := e.effectiveMax(&inv, rt)
		if share > maxP {
			spill += share - maxP
			share = maxP
		} else if spill > 0 {
			share += spill
			if share > maxP {
				spill = share - maxP
				share = maxP
			} else {
				spill = 0
			}
		}

		e.command(&inv, rt, share, forcedRewriteAfter)
	}
	if spill > 0 {
		e.logger.Debug("balanced pass ended with unplaced spill", zap.Float64("spill", spill))
	}
}
