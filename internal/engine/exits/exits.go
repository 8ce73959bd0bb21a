// Package exits evaluates competing exit triggers for a position and
// selects at most one winning trigger per tick. Evaluation order encodes
// business priority: capital protection first, profit-taking second,
// discretionary signals last.
package exits

import (
	"time"

	"stealth-trader/internal/config"
	"stealth-trader/internal/models"
)

// Engine holds the static exit trigger configuration.
type Engine struct {
	cfg config.ExitConfig
}

// NewEngine creates an exit decision engine.
func NewEngine(cfg config.ExitConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decision is the outcome of one evaluation. When Exit is false the
// position stays open and only the returned bookkeeping state persists.
type Decision struct {
	Exit   bool
	Reason models.ExitReason
	Price  float64
}

// Evaluate checks all exit triggers in fixed priority order, stopping at
// the first match. It operates on the post-stage-machine state and
// returns a new position copy carrying updated momentum/volume
// bookkeeping; the input is never mutated.
func (e *Engine) Evaluate(pos *models.Position, snap models.MarketSnapshot, now time.Time) (Decision, *models.Position) {
	next := pos.Clone()

	// 1. Protective stop.
	if snap.Price <= next.StopPrice {
		reason := models.ExitReasonTrailingStop
		if next.Stage == models.StageInitial {
			reason = models.ExitReasonStopLoss
		}
		return Decision{Exit: true, Reason: reason, Price: snap.Price}, next
	}

	// 2. Take profit.
	if snap.Price >= next.TakeProfitPrice {
		return Decision{Exit: true, Reason: models.ExitReasonTakeProfit, Price: snap.Price}, next
	}

	// 3. Momentum reversal: fires only after the indicator has been above
	// the arm level and then crosses below the exit level.
	if next.MomentumArmed && snap.Momentum < e.cfg.MomentumExitLevel {
		return Decision{Exit: true, Reason: models.ExitReasonMomentum, Price: snap.Price}, next
	}
	if snap.Momentum > e.cfg.MomentumArmLevel {
		next.MomentumArmed = true
	}

	// 4. Volume decline: never used to force a loss. A snapshot counts
	// toward the consecutive-tick streak at most once, so re-evaluating
	// the same tick cannot advance the counter.
	if next.ProfitPctAt(snap.Price) > 0 && next.EntryDayAvgVolume > 0 {
		floor := float64(next.EntryDayAvgVolume) * e.cfg.VolumeFloor
		if float64(snap.Volume) < floor {
			if snap.Timestamp.After(next.LastVolumeTickAt) {
				next.LowVolumeTicks++
				next.LastVolumeTickAt = snap.Timestamp
			}
			if next.LowVolumeTicks >= e.cfg.VolumeDeclineTicks {
				return Decision{Exit: true, Reason: models.ExitReasonVolume, Price: snap.Price}, next
			}
		} else {
			next.LowVolumeTicks = 0
		}
	} else {
		next.LowVolumeTicks = 0
	}

	// 5. Time-based cap.
	if now.Sub(next.OpenedAt) >= e.cfg.MaxHolding {
		return Decision{Exit: true, Reason: models.ExitReasonTime, Price: snap.Price}, next
	}

	return Decision{}, next
}

// BuildEvent constructs the terminal ExitEvent for a closed position.
func BuildEvent(pos *models.Position, d Decision, now time.Time) models.ExitEvent {
	return models.ExitEvent{
		Symbol:          pos.Symbol,
		ExitPrice:       d.Price,
		Reason:          d.Reason,
		RealizedPnL:     (d.Price - pos.EntryPrice) * float64(pos.Quantity),
		StageAtExit:     pos.Stage,
		HoldingDuration: now.Sub(pos.OpenedAt),
		Timestamp:       now,
	}
}

// DescribeReason returns a human-readable description for an exit
// reason. The switch is exhaustive over the closed enum so a new reason
// cannot be silently ignored.
func DescribeReason(r models.ExitReason) string {
	switch r {
	case models.ExitReasonStopLoss:
		return "protective stop hit before breakeven"
	case models.ExitReasonTrailingStop:
		return "trailing stop hit"
	case models.ExitReasonTakeProfit:
		return "take-profit target reached"
	case models.ExitReasonMomentum:
		return "momentum reversal"
	case models.ExitReasonVolume:
		return "sustained volume decline"
	case models.ExitReasonTime:
		return "maximum holding time exceeded"
	}
	return "unknown exit reason: " + string(r)
}
