package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"stealth-trader/internal/config"
	"stealth-trader/internal/models"
)

// kiteBatchLimit is the quote API's instruments-per-call ceiling.
const kiteBatchLimit = 200

// KiteProvider serves batched quotes from the Kite Connect API. The
// access token is issued by the out-of-scope session lifecycle; this
// provider only consumes it.
type KiteProvider struct {
	client   *kiteconnect.Client
	exchange string
	momentum *MomentumTracker
}

// NewKiteProvider creates a Kite-backed market data provider.
func NewKiteProvider(cfg config.KiteConfig) *KiteProvider {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "NSE"
	}

	return &KiteProvider{
		client:   client,
		exchange: exchange,
		momentum: NewMomentumTracker(),
	}
}

// BatchLimit implements Provider.
func (p *KiteProvider) BatchLimit() int {
	return kiteBatchLimit
}

// FetchBatch implements Provider. Symbols absent from the response are
// simply missing from the result map; the scheduler counts them as
// per-symbol failures.
func (p *KiteProvider) FetchBatch(ctx context.Context, symbols []string) (map[string]models.MarketSnapshot, error) {
	if len(symbols) > kiteBatchLimit {
		return nil, fmt.Errorf("batch of %d exceeds kite limit %d", len(symbols), kiteBatchLimit)
	}

	instruments := make([]string, len(symbols))
	for i, symbol := range symbols {
		instruments[i] = p.exchange + ":" + symbol
	}

	type quoteResult struct {
		quotes kiteconnect.Quote
		err    error
	}

	// The kite client has no context support; bound it ourselves.
	resultCh := make(chan quoteResult, 1)
	go func() {
		quotes, err := p.client.GetQuote(instruments...)
		resultCh <- quoteResult{quotes: quotes, err: err}
	}()

	var quotes kiteconnect.Quote
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("fetching quotes: %w", res.err)
		}
		quotes = res.quotes
	}

	out := make(map[string]models.MarketSnapshot, len(symbols))
	for _, instrument := range instruments {
		q, ok := quotes[instrument]
		if !ok {
			continue
		}

		symbol := strings.TrimPrefix(instrument, p.exchange+":")
		ts := q.LastTradeTime.Time
		if ts.IsZero() {
			ts = time.Now()
		}

		out[symbol] = models.MarketSnapshot{
			Symbol:    symbol,
			Price:     q.LastPrice,
			Volume:    int64(q.Volume),
			Momentum:  p.momentum.Update(symbol, q.LastPrice),
			Timestamp: ts,
		}
	}

	return out, nil
}

// Forget drops momentum state for a closed position's symbol.
func (p *KiteProvider) Forget(symbol string) {
	p.momentum.Forget(symbol)
}
