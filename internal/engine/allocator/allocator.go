// Package allocator converts a qualified signal into a position size
// subject to portfolio-wide caps. Allocation is a pure calculation with
// no side effects; the ledger re-validates caps at insertion time.
package allocator

import (
	"math"

	"stealth-trader/internal/errors"
	"stealth-trader/internal/models"
)

// Capital fractions. These are hard invariants, not tunables: no position
// is ever allocated beyond them, even under error conditions.
const (
	// ReservedFraction of account capital is never allocated.
	ReservedFraction = 0.20
	// TradingFraction is the pool divided across concurrent positions.
	TradingFraction = 1.0 - ReservedFraction
	// MaxPositionFraction caps a single position's notional value.
	MaxPositionFraction = 0.35
	// MaxPortfolioFraction caps the sum of live position notionals.
	MaxPortfolioFraction = 0.80
)

// Input holds everything the allocator needs. AccountProfitPct is
// trailing realized profit as a percentage of starting capital.
type Input struct {
	Symbol              string
	AvailableCapital    float64
	Confidence          float64
	Agreement           models.AgreementLevel
	ConcurrentPositions int
	AccountProfitPct    float64
	WinStreak           int
}

// Result carries the final notional value plus the intermediate factors
// for logging and testing.
type Result struct {
	FairShare        float64
	UtilizationPct   float64
	BaseValue        float64
	ConfidenceMult   float64
	AgreementBonus   float64
	ProfitMult       float64
	StreakMult       float64
	BoostedValue     float64
	ConfidenceWeight float64
	FinalValue       float64
}

// Allocate computes the position notional value for a signal.
func Allocate(in Input) (Result, error) {
	if in.AvailableCapital <= 0 {
		return Result{}, errors.NewAllocationError(in.Symbol, in.AvailableCapital, in.ConcurrentPositions,
			"available capital must be positive")
	}
	if in.ConcurrentPositions < 1 {
		return Result{}, errors.NewAllocationError(in.Symbol, in.AvailableCapital, in.ConcurrentPositions,
			"concurrent position count must be at least 1")
	}
	if in.Confidence < 0 || in.Confidence > 1 || math.IsNaN(in.Confidence) {
		return Result{}, errors.NewAllocationError(in.Symbol, in.AvailableCapital, in.ConcurrentPositions,
			"confidence must be in [0, 1]")
	}

	tradingCapital := in.AvailableCapital * TradingFraction
	fairShare := tradingCapital / float64(in.ConcurrentPositions)
	utilization := utilizationPct(in.ConcurrentPositions)

	baseValue := fairShare * utilization
	confMult := confidenceMultiplier(in.Confidence)
	bonus := in.Agreement.Bonus()
	profitMult := profitScalingMultiplier(in.AccountProfitPct)
	streakMult := winStreakMultiplier(in.WinStreak)

	boosted := baseValue * confMult * (1 + bonus) * profitMult * streakMult

	// Secondary normalization: re-express confidence/agreement as a share
	// within the fair-share pool so one strong signal cannot starve
	// co-resident positions.
	weight := confidenceWeight(in.Confidence, bonus)

	final := boosted
	if capped := fairShare * weight; capped < final {
		final = capped
	}
	if capped := in.AvailableCapital * MaxPositionFraction; capped < final {
		final = capped
	}

	return Result{
		FairShare:        fairShare,
		UtilizationPct:   utilization,
		BaseValue:        baseValue,
		ConfidenceMult:   confMult,
		AgreementBonus:   bonus,
		ProfitMult:       profitMult,
		StreakMult:       streakMult,
		BoostedValue:     boosted,
		ConfidenceWeight: weight,
		FinalValue:       final,
	}, nil
}

// utilizationPct holds back more headroom per slot as the portfolio grows.
func utilizationPct(positions int) float64 {
	switch {
	case positions <= 5:
		return 0.90
	case positions <= 10:
		return 0.80
	default:
		return 0.70
	}
}

// confidenceMultiplier rewards only sufficiently extreme confidence;
// mid-range confidence gets no size boost.
func confidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.995:
		return 2.5
	case confidence >= 0.99:
		return 2.5
	case confidence >= 0.975:
		return 2.0
	default:
		return 1.0
	}
}

// profitScalingMultiplier compounds winners' position sizes as cumulative
// realized profit grows.
func profitScalingMultiplier(profitPct float64) float64 {
	switch {
	case profitPct >= 200:
		return 1.8
	case profitPct >= 100:
		return 1.4
	case profitPct >= 50:
		return 1.2
	case profitPct >= 25:
		return 1.1
	default:
		return 1.0
	}
}

// winStreakMultiplier is a fixed hook. The streak-tracking logic is not
// defined; the factor stays at 1.0 until it is.
func winStreakMultiplier(_ int) float64 {
	return 1.0
}

// confidenceWeight maps confidence and agreement into [0.7, 1.3].
func confidenceWeight(confidence, agreementBonus float64) float64 {
	w := 0.5 + (confidence-0.85)*2.0 + agreementBonus*0.3
	if w < 0.7 {
		w = 0.7
	}
	if w > 1.3 {
		w = 1.3
	}
	return w
}
