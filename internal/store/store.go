// Package store provides audit persistence for engine events.
package store

import (
	"context"
	"time"

	"stealth-trader/internal/models"
)

// EventStore persists the engine's audit trail: every opened position,
// stage transition, and exit event. Writes are best-effort from the
// scheduler's point of view and never gate a tick.
type EventStore interface {
	RecordOpen(ctx context.Context, ev models.PositionOpened) error
	RecordStageTransition(ctx context.Context, symbol string, from, to models.Stage, stopPrice float64, at time.Time) error
	RecordExit(ctx context.Context, ev models.ExitEvent) error

	GetExits(ctx context.Context, filter ExitFilter) ([]models.ExitEvent, error)

	Close() error
}

// ExitFilter restricts an exit-history query.
type ExitFilter struct {
	Symbol    string
	Reason    models.ExitReason
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}
