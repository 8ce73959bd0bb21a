// Package scheduler drives the monitoring loop: it fetches market data
// for every open position each tick, runs the stage machine and exit
// engine, and owns all ledger mutation. Positions are never left
// unmonitored; a data failure skips the affected symbol for that tick
// and the rest of the portfolio proceeds.
package scheduler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stealth-trader/internal/config"
	"stealth-trader/internal/engine/allocator"
	"stealth-trader/internal/engine/exits"
	"stealth-trader/internal/engine/ledger"
	"stealth-trader/internal/engine/stage"
	enginerrors "stealth-trader/internal/errors"
	"stealth-trader/internal/logging"
	"stealth-trader/internal/marketdata"
	"stealth-trader/internal/models"
	"stealth-trader/internal/monitoring"
	"stealth-trader/internal/notify"
	"stealth-trader/internal/store"
	"stealth-trader/pkg/utils"
)

// Publisher hands engine events to the order-execution collaborator.
// PublishExit must be treated as at-most-once by the caller.
type Publisher interface {
	PublishOpen(ctx context.Context, ev models.PositionOpened) error
	PublishExit(ctx context.Context, ev models.ExitEvent) error
}

// PortfolioSource supplies account capital state from the external
// accounting collaborator.
type PortfolioSource interface {
	State() models.PortfolioState
}

// PortfolioFunc adapts a function to PortfolioSource.
type PortfolioFunc func() models.PortfolioState

// State implements PortfolioSource.
func (f PortfolioFunc) State() models.PortfolioState { return f() }

// Scheduler runs the monitoring loop. All ledger writes happen on the
// scheduler goroutine; signal intake is serialized through a channel so
// sizing and cap checks never race.
type Scheduler struct {
	cfg       config.EngineConfig
	provider  marketdata.Provider
	ledger    *ledger.Ledger
	stages    *stage.Machine
	exits     *exits.Engine
	publisher Publisher
	portfolio PortfolioSource
	events    store.EventStore
	notifier  notify.Notifier
	logger    zerolog.Logger

	publishCfg config.PublishConfig

	signals chan models.NewSignal

	// consecutive fetch failures per open symbol
	failures map[string]int

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Provider  marketdata.Provider
	Ledger    *ledger.Ledger
	Stages    *stage.Machine
	Exits     *exits.Engine
	Publisher Publisher
	Portfolio PortfolioSource
	Events    store.EventStore
	Notifier  notify.Notifier
	Logger    zerolog.Logger
}

// New creates a scheduler. It does not start ticking until Start.
func New(cfg config.EngineConfig, publishCfg config.PublishConfig, deps Deps) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		provider:   deps.Provider,
		ledger:     deps.Ledger,
		stages:     deps.Stages,
		exits:      deps.Exits,
		publisher:  deps.Publisher,
		portfolio:  deps.Portfolio,
		events:     deps.Events,
		notifier:   deps.Notifier,
		logger:     logging.WithComponent(deps.Logger, "scheduler"),
		publishCfg: publishCfg,
		signals:    make(chan models.NewSignal, 64),
		failures:   make(map[string]int),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start begins the tick loop. It returns immediately; the loop runs on
// its own goroutine until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return enginerrors.ErrSchedulerStopped
	}
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop shuts the loop down gracefully. The in-flight tick finishes
// before Stop returns, so no position is abandoned mid-evaluation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.done) })
	<-s.stopped
}

// Submit queues a qualified signal for position opening. It never
// blocks; a full queue rejects the signal so the tick loop cannot be
// stalled by signal bursts.
func (s *Scheduler) Submit(sig models.NewSignal) error {
	select {
	case <-s.done:
		return enginerrors.ErrSchedulerStopped
	default:
	}

	select {
	case s.signals <- sig:
		return nil
	default:
		return enginerrors.Wrapf(enginerrors.ErrInvalidAllocationInput,
			"signal queue full, rejecting %s", sig.Symbol)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// logged once per closed-session transition
	sessionClosed := false

	s.logger.Info().
		Dur("interval", s.cfg.TickInterval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("monitoring loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("monitoring loop stopped by context")
			return
		case <-s.done:
			s.logger.Info().Msg("monitoring loop stopped")
			return
		case sig := <-s.signals:
			s.openPosition(ctx, sig)
		case <-ticker.C:
			if s.cfg.SessionOnly && !utils.IsMarketOpen(time.Now()) {
				if !sessionClosed {
					sessionClosed = true
					s.logger.Info().
						Time("next_open", utils.NextMarketOpen(time.Now())).
						Msg("market closed, monitoring paused")
				}
				continue
			}
			sessionClosed = false
			s.tick(ctx)
		}
	}
}

// tick runs one full monitoring pass over every open position.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	symbols := s.ledger.Symbols()
	if len(symbols) == 0 {
		monitoring.RecordTick(time.Since(start).Seconds())
		return
	}

	snapshots := s.fetchAll(ctx, symbols)

	now := time.Now()
	for _, symbol := range symbols {
		snap, ok := snapshots[symbol]
		if !ok || !snap.Valid() {
			s.recordFailure(ctx, symbol)
			continue
		}
		s.failures[symbol] = 0
		monitoring.UpdatePrice(symbol, snap.Price)
		s.evaluate(ctx, symbol, snap, now)
	}

	monitoring.SetOpenPositions(s.ledger.Count())
	monitoring.RecordTick(time.Since(start).Seconds())
}

// evaluate runs the stage machine then the exit engine for one symbol.
func (s *Scheduler) evaluate(ctx context.Context, symbol string, snap models.MarketSnapshot, now time.Time) {
	pos, ok := s.ledger.Get(symbol)
	if !ok {
		return
	}

	upd, err := s.stages.Evaluate(pos, snap, now)
	if err != nil {
		s.recordFailure(ctx, symbol)
		return
	}

	if err := s.ledger.Apply(upd.Position); err != nil {
		logging.LogInvariantViolation(s.logger, symbol, err)
		return
	}

	if upd.Advanced {
		logging.LogStageAdvance(s.logger, symbol, upd.From, upd.To, upd.Position.StopPrice)
		monitoring.RecordStageAdvance(symbol, string(upd.To))
		if s.events != nil {
			if err := s.events.RecordStageTransition(ctx, symbol, upd.From, upd.To, upd.Position.StopPrice, now); err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("recording stage transition failed")
			}
		}
		if s.notifier != nil {
			_ = s.notifier.SendUpdate(ctx, models.PositionUpdated{
				Symbol:    symbol,
				Stage:     upd.To,
				StopPrice: upd.Position.StopPrice,
				Timestamp: now,
			})
		}
	}

	decision, next := s.exits.Evaluate(upd.Position, snap, now)
	if !decision.Exit {
		if err := s.ledger.Apply(next); err != nil {
			logging.LogInvariantViolation(s.logger, symbol, err)
		}
		return
	}

	s.closePosition(ctx, symbol, decision, now)
}

// closePosition performs the two-phase close: claim the position, build
// and publish the single exit event, then remove it from the ledger.
// The close claim guarantees at most one exit even if a later tick
// re-triggers before finalization; publication failure after retry
// exhaustion still finalizes the removal.
func (s *Scheduler) closePosition(ctx context.Context, symbol string, d exits.Decision, now time.Time) {
	pos, err := s.ledger.BeginClose(symbol)
	if err != nil {
		// Already claimed by an earlier trigger.
		return
	}

	ev := exits.BuildEvent(pos, d, now)
	pubErr := s.publishExit(ctx, ev)

	// The close is finalized either way so the notional stops counting
	// against the portfolio cap; a failed publication leaves the trade
	// itself to be reconciled by hand.
	s.ledger.FinalizeClose(symbol)
	delete(s.failures, symbol)
	if f, ok := s.provider.(interface{ Forget(string) }); ok {
		f.Forget(symbol)
	}

	if pubErr != nil {
		monitoring.RecordPublishFailure()
		monitoring.SetOpenPositions(s.ledger.Count())
		s.logger.Error().Err(pubErr).
			Str("symbol", symbol).
			Str("reason", string(ev.Reason)).
			Msg("exit publication exhausted retries, manual intervention required")
		return
	}

	logging.LogExit(s.logger, ev)
	monitoring.RecordExit(symbol, string(ev.Reason), ev.RealizedPnL)
	monitoring.SetOpenPositions(s.ledger.Count())

	if s.events != nil {
		if err := s.events.RecordExit(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("recording exit failed")
		}
	}
	if s.notifier != nil {
		_ = s.notifier.SendExit(ctx, ev)
	}
}

// openPosition sizes and inserts a position for a qualified signal.
func (s *Scheduler) openPosition(ctx context.Context, sig models.NewSignal) {
	state := s.portfolio.State()

	res, err := allocator.Allocate(allocator.Input{
		Symbol:              sig.Symbol,
		AvailableCapital:    state.AvailableCapital,
		Confidence:          sig.Confidence,
		Agreement:           sig.Agreement,
		ConcurrentPositions: s.ledger.Count() + 1,
		AccountProfitPct:    state.RealizedProfitPct,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("allocation rejected")
		return
	}

	quantity := int(math.Floor(res.FinalValue / sig.EntryPrice))
	if quantity < 1 {
		s.logger.Warn().
			Str("symbol", sig.Symbol).
			Float64("allocated", res.FinalValue).
			Float64("entry_price", sig.EntryPrice).
			Msg("allocation too small for one share")
		return
	}

	stopPrice, takeProfit := s.stages.InitialTargets(sig)
	now := time.Now()

	pos := &models.Position{
		Symbol:            sig.Symbol,
		Side:              models.SideLong,
		EntryPrice:        sig.EntryPrice,
		CurrentPrice:      sig.EntryPrice,
		HighestPrice:      sig.EntryPrice,
		Quantity:          quantity,
		NotionalValue:     float64(quantity) * sig.EntryPrice,
		Confidence:        sig.Confidence,
		Agreement:         sig.Agreement,
		Stage:             models.StageInitial,
		StopPrice:         stopPrice,
		InitialStop:       stopPrice,
		TakeProfitPrice:   takeProfit,
		OpenedAt:          now,
		StageHistory:      []models.StageChange{{Stage: models.StageInitial, At: now}},
		EntryDayAvgVolume: sig.AvgDayVolume,
	}

	if err := s.ledger.Insert(pos, state); err != nil {
		s.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("ledger rejected position")
		return
	}

	opened := models.PositionOpened{
		Symbol:          pos.Symbol,
		Quantity:        pos.Quantity,
		NotionalValue:   pos.NotionalValue,
		StopPrice:       pos.StopPrice,
		TakeProfitPrice: pos.TakeProfitPrice,
		Timestamp:       now,
	}

	if s.publisher != nil {
		if err := s.publisher.PublishOpen(ctx, opened); err != nil {
			// The execution collaborator missed the open; roll the entry
			// back so the ledger never tracks an unexecuted position.
			if p, berr := s.ledger.BeginClose(pos.Symbol); berr == nil && p != nil {
				s.ledger.FinalizeClose(pos.Symbol)
			}
			s.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("open publication failed, position rolled back")
			return
		}
	}

	logging.LogPositionOpened(s.logger, opened)
	monitoring.RecordOpen(pos.Symbol)
	monitoring.SetOpenPositions(s.ledger.Count())

	if s.events != nil {
		if err := s.events.RecordOpen(ctx, opened); err != nil {
			s.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("recording open failed")
		}
	}
	if s.notifier != nil {
		_ = s.notifier.SendOpen(ctx, opened)
	}
}

// recordFailure tracks consecutive data failures for a symbol and
// escalates once the threshold is crossed. The position is left open
// with its last known protective stop in place.
func (s *Scheduler) recordFailure(ctx context.Context, symbol string) {
	s.failures[symbol]++
	count := s.failures[symbol]
	monitoring.RecordFetchFailure(symbol)
	logging.LogDataFailure(s.logger, symbol, count, nil)

	if count == s.cfg.FailureEscalation && s.notifier != nil {
		_ = s.notifier.SendDataAlert(ctx, symbol, count)
	}
}
