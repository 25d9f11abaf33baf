package commands

import (
	"context"
	"fmt"
	"strings"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

// AbandonBallotCommand closes the voter's open ballot without counting it.
type AbandonBallotCommand struct {
	BallotID string
	VoterID  string
}

// AbandonBallot closes an open ballot without tally effect and frees the
// voter to start again.
func (uc BallotUseCase) AbandonBallot(ctx context.Context, cmd AbandonBallotCommand) (entities.Ballot, error) {
	logger := application.ResolveLogger(uc.Logger)
	ballotID := strings.TrimSpace(cmd.BallotID)
	voterID := strings.TrimSpace(cmd.VoterID)
	if ballotID == "" || voterID == "" {
		return entities.Ballot{}, uc.reject(logger, "abandon", domainerrors.ErrInvalidInput,
			"ballot_id", ballotID,
			"voter_id", voterID,
		)
	}

	var (
		abandoned entities.Ballot
		expired   *entities.Ballot
	)
	err := uc.retry().Do(ctx, func(attempt int) error {
		current, err := uc.loadOwnedBallot(ctx, ballotID, voterID)
		if err != nil {
			return err
		}
		if current.State != entities.BallotStateOpen {
			return domainerrors.ErrBallotNotOpen
		}
		now := uc.now()
		if current.IsExpiredAt(now) {
			closed, err := uc.expireLazily(ctx, current, now)
			if err != nil {
				return err
			}
			expired = &closed
			return fmt.Errorf("%w: ballot expired", domainerrors.ErrBallotNotOpen)
		}
		abandoned, err = uc.Ballots.CloseBallot(ctx, ports.CloseRequest{
			BallotID:        current.BallotID,
			To:              entities.BallotStateAbandoned,
			ExpectedVersion: current.Version,
			ClosedAt:        now,
		})
		if isConflict(err) {
			uc.Metrics.Conflict("abandon")
		}
		return err
	})
	if expired != nil {
		uc.Metrics.BallotExpired("lazy")
		recordAudit(ctx, uc.Audit, uc.Metrics, logger, expiredEvent(*expired, "lazy_on_abandon"))
	}
	if err != nil {
		return entities.Ballot{}, uc.reject(logger, "abandon", err, "ballot_id", ballotID, "voter_id", voterID)
	}

	uc.Metrics.BallotAbandoned()
	recordAudit(ctx, uc.Audit, uc.Metrics, logger, entities.AuditEvent{
		Type:       entities.AuditBallotAbandoned,
		ActorID:    voterID,
		Election:   abandoned.Election,
		BallotID:   abandoned.BallotID,
		OccurredAt: uc.now(),
	})
	logger.Info("ballot abandoned",
		"event", "ballot_abandon_completed",
		"module", application.ModuleName,
		"layer", "application",
		"ballot_id", ballotID,
		"voter_id", voterID,
	)
	return abandoned, nil
}
