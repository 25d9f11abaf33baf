package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

const (
	defaultReapBatchSize  = 200
	defaultReapMaxBatches = 10
)

// ReapUseCase expires open ballots past their deadline using the same
// conditional transition as abandon, so a racing submit or abandon wins or
// loses cleanly.
type ReapUseCase struct {
	Ballots    ports.BallotRepository
	Audit      ports.AuditSink
	Clock      ports.Clock
	BatchSize  int
	MaxBatches int
	Metrics    *application.Metrics
	Logger     *slog.Logger
}

// ReapResult counts ballots expired by a sweep and those skipped because
// another transition won.
type ReapResult struct {
	ExpiredCount int
	SkippedCount int
}

// ReapExpired expires open ballots past their deadline in bounded batches.
func (uc ReapUseCase) ReapExpired(ctx context.Context) (ReapResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	limit := uc.BatchSize
	if limit <= 0 {
		limit = defaultReapBatchSize
	}
	maxBatches := uc.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultReapMaxBatches
	}
	uc.Metrics.ReaperSweep()

	var (
		result ReapResult
		errs   []error
	)
	for batch := 0; batch < maxBatches; batch++ {
		now := uc.now()
		candidates, err := uc.Ballots.ListExpiredOpenBallots(ctx, now, limit)
		if err != nil {
			logger.Error("ballot reaper list failed",
				"event", "ballot_reaper_list_failed",
				"module", application.ModuleName,
				"layer", "application",
				"error", err.Error(),
			)
			errs = append(errs, err)
			break
		}
		progressed := 0
		for _, ballot := range candidates {
			closed, err := uc.Ballots.CloseBallot(ctx, ports.CloseRequest{
				BallotID:        ballot.BallotID,
				To:              entities.BallotStateExpired,
				ExpectedVersion: ballot.Version,
				ClosedAt:        now,
			})
			if isConflict(err) {
				// Submitted, abandoned or expired elsewhere first.
				result.SkippedCount++
				continue
			}
			if err != nil {
				logger.Error("ballot reaper expire failed",
					"event", "ballot_reaper_expire_failed",
					"module", application.ModuleName,
					"layer", "application",
					"ballot_id", ballot.BallotID,
					"error", err.Error(),
				)
				errs = append(errs, err)
				continue
			}
			progressed++
			result.ExpiredCount++
			uc.Metrics.BallotExpired("reaper")
			recordAudit(ctx, uc.Audit, uc.Metrics, logger, expiredEvent(closed, "reaper"))
		}
		if len(candidates) < limit || progressed == 0 {
			break
		}
	}

	if result.ExpiredCount > 0 || result.SkippedCount > 0 {
		logger.Info("ballot reaper sweep completed",
			"event", "ballot_reaper_completed",
			"module", application.ModuleName,
			"layer", "application",
			"expired_count", result.ExpiredCount,
			"skipped_count", result.SkippedCount,
		)
	}
	return result, errors.Join(errs...)
}

func (uc ReapUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}
