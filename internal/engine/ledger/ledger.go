// Package ledger holds the authoritative in-memory table of open
// positions. It is the single shared mutable resource of the engine:
// all access goes through a mutex-guarded single-writer discipline, and
// every mutation is validated against the engine's invariants at the
// moment it is applied.
package ledger

import (
	"sync"

	"stealth-trader/internal/engine/allocator"
	"stealth-trader/internal/errors"
	"stealth-trader/internal/models"
)

// Ledger is the position table. Positions handed out are always copies;
// the canonical state is only mutated through Insert, Apply, and the
// two-phase close.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
	closing   map[string]bool
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*models.Position),
		closing:   make(map[string]bool),
	}
}

// Insert adds a new position after re-validating the portfolio caps
// against the ledger's current state. Validation happens here, at
// insertion time, not when allocation began: two near-simultaneous
// signals cannot jointly breach the portfolio cap.
func (l *Ledger) Insert(pos *models.Position, portfolio models.PortfolioState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[pos.Symbol]; ok {
		return errors.Wrapf(errors.ErrPositionExists, "insert %s", pos.Symbol)
	}

	maxPosition := portfolio.AvailableCapital * allocator.MaxPositionFraction
	if pos.NotionalValue > maxPosition {
		return errors.NewCapError(pos.Symbol, "per_position", 0, maxPosition, pos.NotionalValue)
	}

	open := l.openNotionalLocked()
	maxPortfolio := portfolio.AvailableCapital * allocator.MaxPortfolioFraction
	if open+pos.NotionalValue > maxPortfolio {
		return errors.NewCapError(pos.Symbol, "portfolio", open, maxPortfolio, pos.NotionalValue)
	}

	l.positions[pos.Symbol] = pos.Clone()
	return nil
}

// Apply replaces a position's state with the post-evaluation state. A
// mutation that would loosen the stop, lower the take-profit, or move
// the stage backward is rejected and the previous state retained; such
// a rejection indicates a logic bug upstream, not a recoverable
// condition.
func (l *Ledger) Apply(next *models.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.positions[next.Symbol]
	if !ok {
		return errors.Wrapf(errors.ErrPositionNotFound, "apply %s", next.Symbol)
	}
	if l.closing[next.Symbol] {
		return errors.Wrapf(errors.ErrPositionClosing, "apply %s", next.Symbol)
	}

	if next.StopPrice < cur.StopPrice {
		return errors.NewInvariantError(next.Symbol, "stop_monotonic", cur.StopPrice, next.StopPrice)
	}
	if next.TakeProfitPrice < cur.TakeProfitPrice {
		return errors.NewInvariantError(next.Symbol, "take_profit_monotonic", cur.TakeProfitPrice, next.TakeProfitPrice)
	}
	if cur.Stage.After(next.Stage) {
		return errors.NewInvariantError(next.Symbol, "stage_forward_only",
			float64(cur.Stage.Rank()), float64(next.Stage.Rank()))
	}

	l.positions[next.Symbol] = next.Clone()
	return nil
}

// BeginClose marks a position as closing and returns its state. It
// succeeds exactly once per position; a second caller gets
// ErrPositionClosing. This is the at-most-once guarantee for exits.
func (l *Ledger) BeginClose(symbol string) (*models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, errors.Wrapf(errors.ErrPositionNotFound, "close %s", symbol)
	}
	if l.closing[symbol] {
		return nil, errors.Wrapf(errors.ErrPositionClosing, "close %s", symbol)
	}

	l.closing[symbol] = true
	return pos.Clone(), nil
}

// FinalizeClose removes a closing position from the ledger. It is only
// called after the exit event has been published (or publication retries
// are exhausted and the case escalated).
func (l *Ledger) FinalizeClose(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.positions, symbol)
	delete(l.closing, symbol)
}

// Get returns a copy of a position.
func (l *Ledger) Get(symbol string) (*models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// Symbols returns the open, non-closing position symbols.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	symbols := make([]string, 0, len(l.positions))
	for symbol := range l.positions {
		if !l.closing[symbol] {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// Snapshot returns copies of all open positions.
func (l *Ledger) Snapshot() []*models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.Clone())
	}
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// PortfolioSnapshot is a derived view recomputed on demand, never
// mutated directly.
type PortfolioSnapshot struct {
	OpenPositions int
	TotalNotional float64
	UnrealizedPnL float64
}

// Portfolio computes the current derived portfolio view.
func (l *Ledger) Portfolio() PortfolioSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := PortfolioSnapshot{OpenPositions: len(l.positions)}
	for _, pos := range l.positions {
		snap.TotalNotional += pos.NotionalValue
		snap.UnrealizedPnL += pos.UnrealizedPnL()
	}
	return snap
}

func (l *Ledger) openNotionalLocked() float64 {
	var total float64
	for _, pos := range l.positions {
		total += pos.NotionalValue
	}
	return total
}
