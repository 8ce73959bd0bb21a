package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Position lifecycle metrics
	positionsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealth_trader_positions_opened_total",
			Help: "Total number of positions opened",
		},
		[]string{"symbol"},
	)

	exitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealth_trader_exits_total",
			Help: "Total number of position exits",
		},
		[]string{"symbol", "reason"},
	)

	stageAdvancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealth_trader_stage_advances_total",
			Help: "Total number of stealth stage advances",
		},
		[]string{"symbol", "stage"},
	)

	realizedPnl = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stealth_trader_realized_pnl",
			Help:    "Distribution of realized P&L per exit",
			Buckets: []float64{-1000, -500, -100, -50, 0, 50, 100, 500, 1000, 5000},
		},
		[]string{"reason"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stealth_trader_open_positions",
			Help: "Number of currently open positions",
		},
	)

	// Scheduler metrics
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stealth_trader_ticks_total",
			Help: "Total number of monitoring ticks",
		},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stealth_trader_tick_duration_seconds",
			Help:    "Duration of monitoring ticks",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stealth_trader_current_price",
			Help: "Last observed price per symbol",
		},
		[]string{"symbol"},
	)

	fetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealth_trader_fetch_failures_total",
			Help: "Total number of market data fetch failures",
		},
		[]string{"symbol"},
	)

	publishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stealth_trader_publish_failures_total",
			Help: "Total number of exit publications that exhausted retries",
		},
	)
)

func init() {
	prometheus.MustRegister(positionsOpenedTotal)
	prometheus.MustRegister(exitsTotal)
	prometheus.MustRegister(stageAdvancesTotal)
	prometheus.MustRegister(realizedPnl)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(tickDuration)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(fetchFailuresTotal)
	prometheus.MustRegister(publishFailuresTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOpen records a position open.
func RecordOpen(symbol string) {
	positionsOpenedTotal.WithLabelValues(symbol).Inc()
}

// RecordExit records a position exit with its realized P&L.
func RecordExit(symbol, reason string, pnl float64) {
	exitsTotal.WithLabelValues(symbol, reason).Inc()
	realizedPnl.WithLabelValues(reason).Observe(pnl)
}

// RecordStageAdvance records a stealth stage advance.
func RecordStageAdvance(symbol, stage string) {
	stageAdvancesTotal.WithLabelValues(symbol, stage).Inc()
}

// SetOpenPositions updates the open positions gauge.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// RecordTick records a completed monitoring tick.
func RecordTick(durationSeconds float64) {
	ticksTotal.Inc()
	tickDuration.Observe(durationSeconds)
}

// UpdatePrice updates the last observed price for a symbol.
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordFetchFailure records a market data fetch failure.
func RecordFetchFailure(symbol string) {
	fetchFailuresTotal.WithLabelValues(symbol).Inc()
}

// RecordPublishFailure records an exit publication that exhausted its
// retries.
func RecordPublishFailure() {
	publishFailuresTotal.Inc()
}
