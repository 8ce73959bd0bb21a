package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stealth-trader/internal/config"
	"stealth-trader/internal/engine/exits"
	"stealth-trader/internal/engine/ledger"
	"stealth-trader/internal/engine/scheduler"
	"stealth-trader/internal/engine/stage"
	"stealth-trader/internal/marketdata"
	"stealth-trader/internal/models"
	"stealth-trader/internal/monitoring"
	"stealth-trader/internal/notify"
	"stealth-trader/internal/store"
)

// logPublisher is the default order-execution hook: it logs events
// instead of routing orders. Broker wiring replaces it in deployment.
type logPublisher struct {
	app *App
}

func (p *logPublisher) PublishOpen(_ context.Context, ev models.PositionOpened) error {
	p.app.Logger.Info().
		Str("symbol", ev.Symbol).
		Int("quantity", ev.Quantity).
		Msg("open event published")
	return nil
}

func (p *logPublisher) PublishExit(_ context.Context, ev models.ExitEvent) error {
	p.app.Logger.Info().
		Str("symbol", ev.Symbol).
		Str("reason", string(ev.Reason)).
		Float64("pnl", ev.RealizedPnL).
		Msg("exit event published")
	return nil
}

func newRunCmd(app *App) *cobra.Command {
	var (
		capital     float64
		profitPct   float64
		signalSpecs []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the monitoring loop",
		Long: `Start the position monitoring loop. Positions are seeded from
--signal flags in the form SYMBOL:PRICE:STOP:CONFIDENCE[:AGREEMENT],
sized through the capital allocator, and monitored until exit or
shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), app, capital, profitPct, signalSpecs)
		},
	}

	cmd.Flags().Float64Var(&capital, "capital", 100000, "available account capital")
	cmd.Flags().Float64Var(&profitPct, "profit-pct", 0, "trailing realized profit as % of starting capital")
	cmd.Flags().StringArrayVar(&signalSpecs, "signal", nil,
		"qualified signal SYMBOL:PRICE:STOP:CONFIDENCE[:AGREEMENT], repeatable")

	return cmd
}

func runEngine(ctx context.Context, app *App, capital, profitPct float64, signalSpecs []string) error {
	cfg := app.Config
	logger := app.Logger

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(config.DefaultConfigDir(), "stealth-trader.db")
	events, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("event store unavailable, audit trail disabled")
		events = nil
	}
	if events != nil {
		defer events.Close()
	}

	book := ledger.New()
	sched := scheduler.New(cfg.Engine, cfg.Publish, scheduler.Deps{
		Provider:  provider,
		Ledger:    book,
		Stages:    stage.NewMachine(cfg.Stages),
		Exits:     exits.NewEngine(cfg.Exits),
		Publisher: &logPublisher{app: app},
		Portfolio: scheduler.PortfolioFunc(func() models.PortfolioState {
			return models.PortfolioState{
				AvailableCapital:  capital,
				RealizedProfitPct: profitPct,
			}
		}),
		Events:   eventStoreOrNil(events),
		Notifier: notify.NewMultiNotifier(cfg.Notifications),
		Logger:   logger,
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	for _, spec := range signalSpecs {
		sig, err := parseSignalSpec(spec)
		if err != nil {
			logger.Warn().Err(err).Str("spec", spec).Msg("skipping malformed signal")
			continue
		}
		if sim, ok := provider.(*marketdata.SimProvider); ok {
			sim.Seed(sig.Symbol, sig.EntryPrice, sig.AvgDayVolume)
		}
		if err := sched.Submit(sig); err != nil {
			logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("signal rejected")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-runCtx.Done():
	}

	sched.Stop()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	renderPositionsTable(book.Snapshot())
	return nil
}

func buildProvider(cfg *config.Config) (marketdata.Provider, error) {
	switch cfg.MarketData.Provider {
	case "kite":
		if cfg.MarketData.Kite.APIKey == "" || cfg.MarketData.Kite.AccessToken == "" {
			return nil, fmt.Errorf("kite provider requires api_key and access_token")
		}
		return marketdata.NewKiteProvider(cfg.MarketData.Kite), nil
	case "sim", "":
		return marketdata.NewSimProvider(time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", cfg.MarketData.Provider)
	}
}

// eventStoreOrNil avoids handing the scheduler a typed nil interface.
func eventStoreOrNil(s *store.SQLiteStore) store.EventStore {
	if s == nil {
		return nil
	}
	return s
}

// parseSignalSpec parses SYMBOL:PRICE:STOP:CONFIDENCE[:AGREEMENT].
func parseSignalSpec(spec string) (models.NewSignal, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 {
		return models.NewSignal{}, fmt.Errorf("expected SYMBOL:PRICE:STOP:CONFIDENCE, got %q", spec)
	}

	price, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return models.NewSignal{}, fmt.Errorf("parsing price: %w", err)
	}
	stop, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return models.NewSignal{}, fmt.Errorf("parsing stop: %w", err)
	}
	confidence, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return models.NewSignal{}, fmt.Errorf("parsing confidence: %w", err)
	}

	agreement := models.AgreementMedium
	if len(parts) >= 5 {
		agreement = models.AgreementLevel(strings.ToUpper(parts[4]))
	}

	return models.NewSignal{
		Symbol:       strings.ToUpper(parts[0]),
		Confidence:   confidence,
		Agreement:    agreement,
		EntryPrice:   price,
		InitialStop:  stop,
		AvgDayVolume: 1_000_000,
	}, nil
}
