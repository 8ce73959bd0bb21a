package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"stealth-trader/internal/models"
)

// SimProvider is a random-walk market data simulator for paper mode and
// tests. Walks are deterministic for a given seed.
type SimProvider struct {
	mu       sync.Mutex
	rng      *rand.Rand
	prices   map[string]float64
	volumes  map[string]int64
	momentum *MomentumTracker

	// Drift and volatility per step, as fractions of price.
	Drift      float64
	Volatility float64
}

// NewSimProvider creates a simulator with the given seed.
func NewSimProvider(seed int64) *SimProvider {
	return &SimProvider{
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]float64),
		volumes:    make(map[string]int64),
		momentum:   NewMomentumTracker(),
		Drift:      0.0002,
		Volatility: 0.004,
	}
}

// Seed registers a starting price and baseline volume for a symbol.
func (p *SimProvider) Seed(symbol string, price float64, volume int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
	p.volumes[symbol] = volume
}

// BatchLimit implements Provider.
func (p *SimProvider) BatchLimit() int {
	return 50
}

// FetchBatch implements Provider. Unknown symbols are left out of the
// result, mimicking a provider that has no data for them.
func (p *SimProvider) FetchBatch(_ context.Context, symbols []string) (map[string]models.MarketSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make(map[string]models.MarketSnapshot, len(symbols))
	for _, symbol := range symbols {
		price, ok := p.prices[symbol]
		if !ok {
			continue
		}

		step := p.Drift + p.Volatility*p.rng.NormFloat64()
		price *= 1 + step
		p.prices[symbol] = price

		volume := p.volumes[symbol]
		if volume > 0 {
			volume = int64(float64(volume) * (0.8 + 0.4*p.rng.Float64()))
		}

		out[symbol] = models.MarketSnapshot{
			Symbol:    symbol,
			Price:     price,
			Volume:    volume,
			Momentum:  p.momentum.Update(symbol, price),
			Timestamp: now,
		}
	}

	return out, nil
}

// Forget drops state for a closed position's symbol.
func (p *SimProvider) Forget(symbol string) {
	p.mu.Lock()
	delete(p.prices, symbol)
	delete(p.volumes, symbol)
	p.mu.Unlock()
	p.momentum.Forget(symbol)
}
