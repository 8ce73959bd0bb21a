package scheduler

import (
	"context"

	"stealth-trader/internal/errors"
	"stealth-trader/internal/logging"
	"stealth-trader/internal/models"
	"stealth-trader/pkg/utils"
)

// publishExit delivers the exit event to the order-execution
// collaborator with bounded retries. It is called between the close
// claim and finalization, so the event is emitted at most once no
// matter how many attempts the delivery takes.
func (s *Scheduler) publishExit(ctx context.Context, ev models.ExitEvent) error {
	if s.publisher == nil {
		return nil
	}

	cfg := utils.RetryConfig{
		MaxAttempts:   s.publishCfg.MaxAttempts,
		InitialDelay:  s.publishCfg.InitialDelay,
		MaxDelay:      s.publishCfg.MaxDelay,
		BackoffFactor: s.publishCfg.BackoffFactor,
	}
	if cfg.MaxAttempts < 1 {
		cfg = utils.DefaultRetryConfig()
	}

	logger := logging.WithSymbol(s.logger, ev.Symbol)
	attempt := 0
	err := utils.Retry(ctx, cfg, func() error {
		attempt++
		if perr := s.publisher.PublishExit(ctx, ev); perr != nil {
			logger.Warn().Err(perr).
				Int("attempt", attempt).
				Msg("exit publication attempt failed")
			return perr
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(errors.ErrPublishFailed, "publishing exit for %s after %d attempts: %v",
			ev.Symbol, attempt, err)
	}
	return nil
}
