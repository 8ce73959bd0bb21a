// Package models provides domain models for the risk and exit engine.
package models

import (
	"math"
	"time"
)

// Side represents the direction of a position. The engine is long-only.
type Side string

const (
	SideLong Side = "LONG"
)

// Stage represents the protective/profit-taking phase of a position.
// Stages only ever move forward; exit removes the position instead of
// introducing a terminal stage value.
type Stage string

const (
	StageInitial   Stage = "INITIAL"
	StageBreakeven Stage = "BREAKEVEN"
	StageTrailing  Stage = "TRAILING"
	StageExplosive Stage = "EXPLOSIVE"
	StageMoon      Stage = "MOON"
)

// stageOrder defines the strict forward ordering of stages.
var stageOrder = map[Stage]int{
	StageInitial:   0,
	StageBreakeven: 1,
	StageTrailing:  2,
	StageExplosive: 3,
	StageMoon:      4,
}

// Rank returns the position of a stage in the forward ordering.
func (s Stage) Rank() int {
	return stageOrder[s]
}

// After reports whether s is strictly later than other.
func (s Stage) After(other Stage) bool {
	return s.Rank() > other.Rank()
}

// ExitReason represents the reason a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitReasonMomentum     ExitReason = "MOMENTUM_EXIT"
	ExitReasonVolume       ExitReason = "VOLUME_EXIT"
	ExitReasonTime         ExitReason = "TIME_EXIT"
)

// AgreementLevel represents how many independent strategies concurred
// on a signal.
type AgreementLevel string

const (
	AgreementNone    AgreementLevel = "NONE"
	AgreementLow     AgreementLevel = "LOW"
	AgreementMedium  AgreementLevel = "MEDIUM"
	AgreementHigh    AgreementLevel = "HIGH"
	AgreementMaximum AgreementLevel = "MAXIMUM"
)

// Bonus returns the additive sizing bonus for an agreement level.
func (a AgreementLevel) Bonus() float64 {
	switch a {
	case AgreementMedium:
		return 0.25
	case AgreementHigh:
		return 0.50
	case AgreementMaximum:
		return 1.00
	default:
		return 0.0
	}
}

// StageChange records a stage advance for audit and testing.
type StageChange struct {
	Stage Stage
	At    time.Time
}

// Position is an open position tracked by the ledger. It is mutated only
// by the scheduler tick; the stage machine and exit engine operate on
// copies and return new state.
type Position struct {
	Symbol        string
	Side          Side
	EntryPrice    float64
	CurrentPrice  float64
	HighestPrice  float64 // highest price observed since entry
	Quantity      int
	NotionalValue float64
	Confidence    float64
	Agreement     AgreementLevel

	Stage           Stage
	StopPrice       float64
	InitialStop     float64 // original risk-based stop from the signal
	TakeProfitPrice float64

	OpenedAt     time.Time
	StageHistory []StageChange

	// Per-position exit-evaluation state.
	EntryDayAvgVolume int64
	MomentumArmed     bool      // momentum indicator has been above the arm level
	LowVolumeTicks    int       // consecutive ticks below the volume floor
	LastVolumeTickAt  time.Time // snapshot timestamp already counted toward LowVolumeTicks
}

// ProfitPct returns unrealized profit as a fraction of entry price.
func (p *Position) ProfitPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// ProfitPctAt returns profit as a fraction of entry price if the
// position were marked at the given price.
func (p *Position) ProfitPctAt(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// UnrealizedPnL returns the unrealized profit in currency terms.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * float64(p.Quantity)
}

// Clone returns a deep copy safe to hand outside the ledger.
func (p *Position) Clone() *Position {
	cp := *p
	cp.StageHistory = make([]StageChange, len(p.StageHistory))
	copy(cp.StageHistory, p.StageHistory)
	return &cp
}

// MarketSnapshot is a read-only per-symbol observation supplied by the
// market-data collaborator each tick.
type MarketSnapshot struct {
	Symbol    string
	Price     float64
	Volume    int64
	Momentum  float64 // RSI-style oscillator in [0,100]
	Timestamp time.Time
}

// Valid reports whether the snapshot carries a usable price. A
// non-finite or non-positive price means the tick must be skipped for
// this symbol.
func (m MarketSnapshot) Valid() bool {
	return m.Price > 0 && !math.IsNaN(m.Price) && !math.IsInf(m.Price, 0)
}

// NewSignal is a qualified entry signal produced by the out-of-scope
// signal pipeline.
type NewSignal struct {
	Symbol       string
	Confidence   float64
	Agreement    AgreementLevel
	EntryPrice   float64
	InitialStop  float64
	AvgDayVolume int64
}

// PortfolioState is supplied by the external accounting collaborator.
type PortfolioState struct {
	AvailableCapital  float64
	RealizedProfitPct float64 // trailing realized profit as % of starting capital
}
