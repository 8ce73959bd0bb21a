// Package marketdata provides market-data provider interfaces and
// implementations for the monitoring scheduler.
package marketdata

import (
	"context"

	"stealth-trader/internal/models"
)

// Provider fetches batched market snapshots. The scheduler groups open
// symbols into batches no larger than BatchLimit and issues them
// concurrently with bounded parallelism.
type Provider interface {
	// FetchBatch returns snapshots keyed by symbol. Symbols missing from
	// the result are treated as individual fetch failures, not an error.
	FetchBatch(ctx context.Context, symbols []string) (map[string]models.MarketSnapshot, error)

	// BatchLimit is the provider's maximum symbols per call.
	BatchLimit() int
}
