// Package stage implements the stealth stage machine: a per-position
// state machine that only ever tightens the protective stop as a
// position becomes profitable. It is a pure function of position state
// and a market snapshot; the scheduler applies the returned state.
package stage

import (
	"time"

	"stealth-trader/internal/config"
	"stealth-trader/internal/errors"
	"stealth-trader/internal/models"
)

// Machine evaluates stage transitions against configured thresholds.
type Machine struct {
	cfg config.StageConfig
}

// NewMachine creates a stage machine from static configuration.
func NewMachine(cfg config.StageConfig) *Machine {
	return &Machine{cfg: cfg}
}

// Update is the result of one evaluation. Position is a new copy; the
// input position is never mutated.
type Update struct {
	Position *models.Position
	Advanced bool
	From     models.Stage
	To       models.Stage
}

// Thresholds are the stage entry thresholds after confidence adjustment.
// High-quality trades lock in large gains sooner: higher confidence
// lowers the explosive and moon thresholds.
type Thresholds struct {
	Breakeven float64
	Trailing  float64
	Explosive float64
	Moon      float64
}

// Thresholds returns the tier-adjusted thresholds for a confidence score.
func (m *Machine) Thresholds(confidence float64) Thresholds {
	t := Thresholds{
		Breakeven: m.cfg.BreakevenThreshold,
		Trailing:  m.cfg.TrailingThreshold,
		Explosive: m.cfg.ExplosiveThreshold,
		Moon:      m.cfg.MoonThreshold,
	}

	switch {
	case confidence >= m.cfg.UltraConfidence:
		t.Explosive *= m.cfg.UltraExplosiveFactor
		t.Moon = m.cfg.UltraMoonThreshold
	case confidence >= m.cfg.HighConfidence:
		t.Explosive *= m.cfg.HighExplosiveFactor
		t.Moon = m.cfg.HighMoonThreshold
	}

	return t
}

// takeProfitFactor returns the confidence-tier take-profit multiplier.
func (m *Machine) takeProfitFactor(confidence float64) float64 {
	switch {
	case confidence >= m.cfg.UltraConfidence:
		return m.cfg.UltraTakeProfitFactor
	case confidence >= m.cfg.HighConfidence:
		return m.cfg.HighTakeProfitFactor
	default:
		return 1.0
	}
}

// InitialTargets computes the stop and take-profit prices for a new
// position at entry.
func (m *Machine) InitialTargets(sig models.NewSignal) (stopPrice, takeProfitPrice float64) {
	stopPrice = sig.InitialStop
	takeProfitPrice = sig.EntryPrice * (1 + m.cfg.BaseTakeProfit*m.takeProfitFactor(sig.Confidence))
	return stopPrice, takeProfitPrice
}

// Evaluate runs one tick of the stage machine for a position. It returns
// a new position state; stop and take-profit prices never decrease, and
// the stage never moves backward. A snapshot with an unusable price
// skips the tick for this position.
func (m *Machine) Evaluate(pos *models.Position, snap models.MarketSnapshot, now time.Time) (Update, error) {
	if !snap.Valid() {
		return Update{}, errors.NewStaleDataError(pos.Symbol, snap.Price)
	}

	next := pos.Clone()
	next.CurrentPrice = snap.Price
	if snap.Price > next.HighestPrice {
		next.HighestPrice = snap.Price
	}

	t := m.Thresholds(next.Confidence)
	target := m.targetStage(next.ProfitPct(), t)

	advanced := target.After(next.Stage)
	from := next.Stage
	if advanced {
		next.Stage = target
		next.StageHistory = append(next.StageHistory, models.StageChange{Stage: target, At: now})
		if target == models.StageMoon {
			next.TakeProfitPrice = maxPrice(next.TakeProfitPrice, next.TakeProfitPrice*m.cfg.MoonTakeProfitBoost)
		}
	}

	// Recompute the stop under the current stage's rule, then clamp so a
	// recomputation can never loosen it, even on a data glitch.
	next.StopPrice = maxPrice(pos.StopPrice, m.stopFor(next))

	return Update{
		Position: next,
		Advanced: advanced,
		From:     from,
		To:       next.Stage,
	}, nil
}

// targetStage returns the highest stage whose entry condition holds.
// Stages are cumulative: satisfying MOON implies all lower stages.
func (m *Machine) targetStage(profitPct float64, t Thresholds) models.Stage {
	switch {
	case profitPct >= t.Moon:
		return models.StageMoon
	case profitPct >= t.Explosive:
		return models.StageExplosive
	case profitPct >= t.Trailing:
		return models.StageTrailing
	case profitPct >= t.Breakeven:
		return models.StageBreakeven
	default:
		return models.StageInitial
	}
}

// stopFor computes the protective stop under a position's current stage.
func (m *Machine) stopFor(pos *models.Position) float64 {
	switch pos.Stage {
	case models.StageBreakeven:
		return pos.EntryPrice
	case models.StageTrailing:
		return pos.HighestPrice * (1 - m.cfg.TrailingDistance)
	case models.StageExplosive:
		return pos.HighestPrice * (1 - m.cfg.ExplosiveDistance)
	case models.StageMoon:
		return pos.HighestPrice * (1 - m.cfg.MoonDistance)
	default:
		return pos.InitialStop
	}
}

func maxPrice(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
