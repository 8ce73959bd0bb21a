// Package models provides domain models for the risk and exit engine.
package models

import "time"

// ExitEvent is the single terminal output for a position. The engine
// guarantees at most one ExitEvent per position.
type ExitEvent struct {
	Symbol          string
	ExitPrice       float64
	Reason          ExitReason
	RealizedPnL     float64
	StageAtExit     Stage
	HoldingDuration time.Duration
	Timestamp       time.Time
}

// PositionOpened is published after capital allocation succeeds and the
// position is inserted into the ledger. The order-execution collaborator
// places the actual broker order from it.
type PositionOpened struct {
	Symbol          string
	Quantity        int
	NotionalValue   float64
	StopPrice       float64
	TakeProfitPrice float64
	Timestamp       time.Time
}

// PositionUpdated reports a stage advance or stop move for dashboards.
type PositionUpdated struct {
	Symbol    string
	Stage     Stage
	StopPrice float64
	Timestamp time.Time
}
