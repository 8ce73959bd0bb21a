package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	enginerrors "stealth-trader/internal/errors"
	"stealth-trader/internal/models"
)

// fetchAll retrieves snapshots for every symbol, chunked to the
// provider's batch limit and fetched with bounded concurrency. A failed
// batch loses only its own symbols; the merged result always carries
// whatever the other batches returned.
func (s *Scheduler) fetchAll(ctx context.Context, symbols []string) map[string]models.MarketSnapshot {
	batchSize := s.cfg.BatchSize
	if limit := s.provider.BatchLimit(); limit > 0 && limit < batchSize {
		batchSize = limit
	}
	if batchSize < 1 {
		batchSize = 1
	}

	batches := chunkSymbols(symbols, batchSize)

	var mu sync.Mutex
	merged := make(map[string]models.MarketSnapshot, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MaxConcurrentBatches > 0 {
		g.SetLimit(s.cfg.MaxConcurrentBatches)
	}

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			fctx := gctx
			if s.cfg.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, s.cfg.FetchTimeout)
				defer cancel()
			}

			snaps, err := s.provider.FetchBatch(fctx, batch)
			if err != nil {
				if enginerrors.Is(err, context.DeadlineExceeded) {
					err = enginerrors.NewDataError(batch, "batch fetch deadline", enginerrors.ErrDataFetchTimeout)
				}
				s.logger.Warn().Err(err).
					Int("symbols", len(batch)).
					Msg("batch fetch failed")
				// Do not fail the group: other batches must still land.
				return nil
			}

			mu.Lock()
			for sym, snap := range snaps {
				merged[sym] = snap
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return merged
}

// chunkSymbols splits symbols into batches of at most size.
func chunkSymbols(symbols []string, size int) [][]string {
	if len(symbols) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[start:end])
	}
	return batches
}
