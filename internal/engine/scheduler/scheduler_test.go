package scheduler

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealth-trader/internal/config"
	"stealth-trader/internal/engine/exits"
	"stealth-trader/internal/engine/ledger"
	"stealth-trader/internal/engine/stage"
	"stealth-trader/internal/models"
)

// scriptProvider serves a fixed snapshot per symbol, mutable between
// ticks. Symbols without an entry are reported missing.
type scriptProvider struct {
	mu    sync.Mutex
	snaps map[string]models.MarketSnapshot
}

func newScriptProvider() *scriptProvider {
	return &scriptProvider{snaps: make(map[string]models.MarketSnapshot)}
}

func (p *scriptProvider) set(symbol string, price float64, volume int64, momentum float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[symbol] = models.MarketSnapshot{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Momentum:  momentum,
		Timestamp: time.Now(),
	}
}

func (p *scriptProvider) drop(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.snaps, symbol)
}

func (p *scriptProvider) FetchBatch(_ context.Context, symbols []string) (map[string]models.MarketSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.MarketSnapshot, len(symbols))
	for _, sym := range symbols {
		if snap, ok := p.snaps[sym]; ok {
			out[sym] = snap
		}
	}
	return out, nil
}

func (p *scriptProvider) BatchLimit() int { return 100 }

// recordingPublisher counts published events and can be told to fail.
type recordingPublisher struct {
	mu        sync.Mutex
	opens     []models.PositionOpened
	exitEvs   []models.ExitEvent
	failExits int // fail this many exit attempts before succeeding
}

func (p *recordingPublisher) PublishOpen(_ context.Context, ev models.PositionOpened) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens = append(p.opens, ev)
	return nil
}

func (p *recordingPublisher) PublishExit(_ context.Context, ev models.ExitEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failExits > 0 {
		p.failExits--
		return assert.AnError
	}
	p.exitEvs = append(p.exitEvs, ev)
	return nil
}

func (p *recordingPublisher) exits() []models.ExitEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ExitEvent, len(p.exitEvs))
	copy(out, p.exitEvs)
	return out
}

func (p *recordingPublisher) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opens)
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		TickInterval:         10 * time.Millisecond,
		BatchSize:            25,
		MaxConcurrentBatches: 2,
		FetchTimeout:         time.Second,
		FailureEscalation:    5,
	}
}

func testStageConfig() config.StageConfig {
	return config.StageConfig{
		BreakevenThreshold: 0.005,
		TrailingThreshold:  0.008,
		ExplosiveThreshold: 0.05,
		MoonThreshold:      0.25,

		TrailingDistance:  0.008,
		ExplosiveDistance: 0.005,
		MoonDistance:      0.003,

		BaseTakeProfit:      0.10,
		MoonTakeProfitBoost: 1.5,

		UltraConfidence:       0.99,
		HighConfidence:        0.95,
		UltraMoonThreshold:    0.10,
		HighMoonThreshold:     0.15,
		UltraExplosiveFactor:  0.8,
		HighExplosiveFactor:   0.9,
		UltraTakeProfitFactor: 2.0,
		HighTakeProfitFactor:  1.5,
	}
}

func testExitConfig() config.ExitConfig {
	return config.ExitConfig{
		MaxHolding:         4 * time.Hour,
		MomentumArmLevel:   55,
		MomentumExitLevel:  45,
		VolumeFloor:        0.4,
		VolumeDeclineTicks: 3,
	}
}

func testPublishConfig() config.PublishConfig {
	return config.PublishConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func newTestScheduler(t *testing.T, provider *scriptProvider, publisher *recordingPublisher) (*Scheduler, *ledger.Ledger) {
	t.Helper()
	book := ledger.New()
	sched := New(testEngineConfig(), testPublishConfig(), Deps{
		Provider:  provider,
		Ledger:    book,
		Stages:    stage.NewMachine(testStageConfig()),
		Exits:     exits.NewEngine(testExitConfig()),
		Publisher: publisher,
		Portfolio: PortfolioFunc(func() models.PortfolioState {
			return models.PortfolioState{AvailableCapital: 1_000_000}
		}),
		Logger: zerolog.Nop(),
	})
	return sched, book
}

func testSignal(symbol string, price float64) models.NewSignal {
	return models.NewSignal{
		Symbol:       symbol,
		Confidence:   0.90,
		Agreement:    models.AgreementMedium,
		EntryPrice:   price,
		InitialStop:  price * 0.97,
		AvgDayVolume: 1_000_000,
	}
}

func TestScheduler_SubmitOpensPosition(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	provider.set("TCS", 100, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("TCS", 100)))

	require.Eventually(t, func() bool {
		return book.Count() == 1
	}, time.Second, 5*time.Millisecond)

	pos, ok := book.Get("TCS")
	require.True(t, ok)
	assert.Equal(t, models.StageInitial, pos.Stage)
	assert.Equal(t, models.SideLong, pos.Side)
	assert.InDelta(t, 97.0, pos.StopPrice, 1e-9)
	assert.Greater(t, pos.Quantity, 0)
	assert.Equal(t, 1, publisher.openCount())
}

func TestScheduler_TickAdvancesStage(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	provider.set("TCS", 100, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("TCS", 100)))
	require.Eventually(t, func() bool { return book.Count() == 1 }, time.Second, 5*time.Millisecond)

	// +1% moves the position to TRAILING with the stop above entry.
	provider.set("TCS", 101, 1_000_000, 50)

	require.Eventually(t, func() bool {
		pos, ok := book.Get("TCS")
		return ok && pos.Stage == models.StageTrailing
	}, time.Second, 5*time.Millisecond)

	pos, _ := book.Get("TCS")
	assert.InDelta(t, 101*(1-0.008), pos.StopPrice, 1e-9)
}

func TestScheduler_StopHitPublishesSingleExit(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	provider.set("TCS", 100, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("TCS", 100)))
	require.Eventually(t, func() bool { return book.Count() == 1 }, time.Second, 5*time.Millisecond)

	// Crash through the initial stop.
	provider.set("TCS", 96, 1_000_000, 50)

	require.Eventually(t, func() bool {
		return book.Count() == 0
	}, time.Second, 5*time.Millisecond)

	// Let several more ticks elapse; no duplicate event may appear.
	time.Sleep(50 * time.Millisecond)

	evs := publisher.exits()
	require.Len(t, evs, 1)
	assert.Equal(t, models.ExitReasonStopLoss, evs[0].Reason)
	assert.Equal(t, "TCS", evs[0].Symbol)
	assert.Negative(t, evs[0].RealizedPnL)
}

func TestScheduler_ExitPublishRetriesThenSucceeds(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{failExits: 2}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	provider.set("TCS", 100, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("TCS", 100)))
	require.Eventually(t, func() bool { return book.Count() == 1 }, time.Second, 5*time.Millisecond)

	provider.set("TCS", 96, 1_000_000, 50)

	// Two attempts fail, the third lands within the configured attempts.
	require.Eventually(t, func() bool {
		return len(publisher.exits()) == 1 && book.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_ExitPublishExhaustionStillClosesPosition(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{failExits: 1 << 30}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	provider.set("TCS", 100, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("TCS", 100)))
	require.Eventually(t, func() bool { return book.Count() == 1 }, time.Second, 5*time.Millisecond)

	provider.set("TCS", 96, 1_000_000, 50)

	// Every attempt fails; after exhaustion the position is still
	// removed so its notional no longer counts against the book.
	require.Eventually(t, func() bool {
		return book.Count() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, publisher.exits())

	// No second close is attempted on later ticks.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, publisher.exits())
	assert.Zero(t, book.Count())
}

func TestScheduler_DataFailureIsolatedPerSymbol(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	provider.set("GOOD", 100, 1_000_000, 50)
	provider.set("BAD", 200, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("GOOD", 100)))
	require.NoError(t, sched.Submit(testSignal("BAD", 200)))
	require.Eventually(t, func() bool { return book.Count() == 2 }, time.Second, 5*time.Millisecond)

	// BAD loses its feed entirely while GOOD keeps trading upward.
	provider.drop("BAD")
	provider.set("GOOD", 101, 1_000_000, 50)

	require.Eventually(t, func() bool {
		pos, ok := book.Get("GOOD")
		return ok && pos.Stage == models.StageTrailing
	}, time.Second, 5*time.Millisecond)

	// BAD is untouched: same stage, same stop, still open.
	pos, ok := book.Get("BAD")
	require.True(t, ok)
	assert.Equal(t, models.StageInitial, pos.Stage)
	assert.InDelta(t, 194.0, pos.StopPrice, 1e-9)
}

func TestScheduler_StopFinishesInFlightWork(t *testing.T) {
	provider := newScriptProvider()
	publisher := &recordingPublisher{}
	sched, book := newTestScheduler(t, provider, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))

	provider.set("TCS", 100, 1_000_000, 50)
	require.NoError(t, sched.Submit(testSignal("TCS", 100)))
	require.Eventually(t, func() bool { return book.Count() == 1 }, time.Second, 5*time.Millisecond)

	sched.Stop()

	// After Stop returns, the loop is down and new signals are rejected.
	err := sched.Submit(testSignal("INFY", 50))
	assert.Error(t, err)

	// Stop is idempotent.
	sched.Stop()
}

// slowProvider blocks every fetch until its context expires.
type slowProvider struct{}

func (slowProvider) FetchBatch(ctx context.Context, _ []string) (map[string]models.MarketSnapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) BatchLimit() int { return 100 }

func TestFetchAll_TimeoutReportedAsDataFetchTimeout(t *testing.T) {
	var buf bytes.Buffer
	cfg := testEngineConfig()
	cfg.FetchTimeout = 5 * time.Millisecond

	sched := New(cfg, testPublishConfig(), Deps{
		Provider:  slowProvider{},
		Ledger:    ledger.New(),
		Stages:    stage.NewMachine(testStageConfig()),
		Exits:     exits.NewEngine(testExitConfig()),
		Publisher: &recordingPublisher{},
		Portfolio: PortfolioFunc(func() models.PortfolioState {
			return models.PortfolioState{AvailableCapital: 1_000_000}
		}),
		Logger: zerolog.New(&buf),
	})

	got := sched.fetchAll(context.Background(), []string{"TCS", "INFY"})

	assert.Empty(t, got)
	assert.Contains(t, buf.String(), "market data fetch timed out")
}

func TestChunkSymbols(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
		size    int
		want    [][]string
	}{
		{"empty", nil, 5, nil},
		{"single batch", []string{"A", "B"}, 5, [][]string{{"A", "B"}}},
		{"exact split", []string{"A", "B", "C", "D"}, 2, [][]string{{"A", "B"}, {"C", "D"}}},
		{"remainder", []string{"A", "B", "C"}, 2, [][]string{{"A", "B"}, {"C"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkSymbols(tt.symbols, tt.size)
			assert.Equal(t, tt.want, got)
		})
	}
}
