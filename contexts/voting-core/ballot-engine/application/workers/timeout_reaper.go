package workers

import (
	"context"
	"log/slog"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/application/commands"
)

const defaultReapInterval = 60 * time.Second

// TimeoutReaper runs the expiry sweep on a fixed interval.
type TimeoutReaper struct {
	Reap     commands.ReapUseCase
	Interval time.Duration
	Logger   *slog.Logger
}

// RunOnce performs a single sweep.
func (w TimeoutReaper) RunOnce(ctx context.Context) (commands.ReapResult, error) {
	logger := application.ResolveLogger(w.Logger)
	result, err := w.Reap.ReapExpired(ctx)
	if err != nil {
		logger.Error("ballot timeout sweep failed",
			"event", "ballot_timeout_sweep_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"expired_count", result.ExpiredCount,
			"error", err.Error(),
		)
		return result, err
	}
	if result.ExpiredCount > 0 || result.SkippedCount > 0 {
		logger.Info("ballot timeout sweep completed",
			"event", "ballot_timeout_sweep_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"expired_count", result.ExpiredCount,
			"skipped_count", result.SkippedCount,
		)
	}
	return result, nil
}

// Run sweeps immediately and then on every tick until ctx is done. A failed
// sweep is logged and retried on the next tick.
func (w TimeoutReaper) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
