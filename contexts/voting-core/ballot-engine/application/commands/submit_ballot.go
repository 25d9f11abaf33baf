package commands

import (
	"context"
	"strings"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

// SubmitBallotCommand finalises a ballot and applies its tally.
type SubmitBallotCommand struct {
	BallotID string
	VoterID  string
}

// SubmitBallotResult reports the submission time. Replayed is set when the
// ballot had already been submitted; the original time is returned.
type SubmitBallotResult struct {
	Ballot      entities.Ballot
	SubmittedAt time.Time
	Replayed    bool
}

// SubmitBallot finalizes an open ballot. The state flip, every tally
// increment and every vote record commit together or not at all.
func (uc BallotUseCase) SubmitBallot(ctx context.Context, cmd SubmitBallotCommand) (SubmitBallotResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ballotID := strings.TrimSpace(cmd.BallotID)
	voterID := strings.TrimSpace(cmd.VoterID)
	started := time.Now()
	logger.Info("ballot submit processing started",
		"event", "ballot_submit_started",
		"module", application.ModuleName,
		"layer", "application",
		"ballot_id", ballotID,
		"voter_id", voterID,
	)
	if ballotID == "" || voterID == "" {
		return SubmitBallotResult{}, uc.reject(logger, "submit", domainerrors.ErrInvalidInput,
			"ballot_id", ballotID,
			"voter_id", voterID,
		)
	}

	var (
		result  SubmitBallotResult
		expired *entities.Ballot
	)
	err := uc.retry().Do(ctx, func(attempt int) error {
		current, err := uc.loadOwnedBallot(ctx, ballotID, voterID)
		if err != nil {
			return err
		}
		switch current.State {
		case entities.BallotStateSubmitted:
			result = replayedResult(current)
			return nil
		case entities.BallotStateOpen:
		default:
			return stateError(current.State)
		}

		now := uc.now()
		if current.IsExpiredAt(now) {
			closed, err := uc.expireLazily(ctx, current, now)
			if err != nil {
				return err
			}
			expired = &closed
			return domainerrors.ErrBallotExpired
		}

		election, err := uc.Elections.GetElection(ctx, current.Election)
		if err != nil {
			return err
		}
		if !election.AcceptsVotesAt(now, uc.location()) {
			return domainerrors.ErrElectionNotVotable
		}
		catalog, err := uc.loadCatalog(ctx, current.Election)
		if err != nil {
			return err
		}
		if err := uc.Completeness.Check(current.Selections, catalog); err != nil {
			return err
		}
		increments, err := services.PlanTally(current, catalog)
		if err != nil {
			return err
		}
		records, err := uc.voteRecords(ctx, current, increments, now)
		if err != nil {
			return err
		}

		submitted, err := uc.Ballots.SubmitBallot(ctx, ports.SubmitRequest{
			BallotID:        current.BallotID,
			ExpectedVersion: current.Version,
			SubmittedAt:     now,
			Increments:      increments,
			Records:         records,
		})
		if err != nil {
			if isConflict(err) {
				uc.Metrics.Conflict("submit")
				logger.Debug("ballot submit conflict, retrying",
					"event", "ballot_submit_conflict",
					"module", application.ModuleName,
					"layer", "application",
					"ballot_id", ballotID,
					"attempt", attempt,
				)
			}
			return err
		}
		result = SubmitBallotResult{Ballot: submitted, SubmittedAt: now}
		return nil
	})
	if expired != nil {
		uc.Metrics.BallotExpired("lazy")
		recordAudit(ctx, uc.Audit, uc.Metrics, logger, expiredEvent(*expired, "lazy_on_submit"))
	}
	if err != nil {
		return SubmitBallotResult{}, uc.reject(logger, "submit", err, "ballot_id", ballotID, "voter_id", voterID)
	}

	if result.Replayed {
		uc.Metrics.SubmitReplayed()
		logger.Info("ballot submit replayed",
			"event", "ballot_submit_replayed",
			"module", application.ModuleName,
			"layer", "application",
			"ballot_id", ballotID,
			"voter_id", voterID,
			"submitted_at", result.SubmittedAt,
		)
		return result, nil
	}

	uc.Metrics.BallotSubmitted(time.Since(started))
	ballot := result.Ballot
	recordAudit(ctx, uc.Audit, uc.Metrics, logger, entities.AuditEvent{
		Type:     entities.AuditVoteSubmitted,
		ActorID:  voterID,
		Election: ballot.Election,
		BallotID: ballot.BallotID,
		Details: map[string]any{
			"selections":   ballot.Selections.Count(),
			"submitted_at": result.SubmittedAt,
		},
		OccurredAt: result.SubmittedAt,
	})
	recordAudit(ctx, uc.Audit, uc.Metrics, logger, entities.AuditEvent{
		Type:       entities.ParticipationEventType(ballot.Election.Kind),
		ActorID:    voterID,
		Election:   ballot.Election,
		BallotID:   ballot.BallotID,
		OccurredAt: result.SubmittedAt,
	})
	logger.Info("ballot submitted",
		"event", "ballot_submit_completed",
		"module", application.ModuleName,
		"layer", "application",
		"ballot_id", ballotID,
		"voter_id", voterID,
		"election", ballot.Election.Key(),
		"selections", ballot.Selections.Count(),
	)
	return result, nil
}

func (uc BallotUseCase) voteRecords(
	ctx context.Context,
	ballot entities.Ballot,
	increments []entities.TallyIncrement,
	castAt time.Time,
) ([]entities.VoteRecord, error) {
	records := make([]entities.VoteRecord, 0, len(increments))
	for _, increment := range increments {
		recordID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return nil, err
		}
		records = append(records, entities.VoteRecord{
			RecordID:    recordID,
			BallotID:    ballot.BallotID,
			Election:    ballot.Election,
			PositionID:  increment.PositionID,
			CandidateID: increment.CandidateID,
			CastAt:      castAt,
		})
	}
	return records, nil
}

func replayedResult(ballot entities.Ballot) SubmitBallotResult {
	result := SubmitBallotResult{Ballot: ballot, Replayed: true}
	if ballot.SubmittedAt != nil {
		result.SubmittedAt = *ballot.SubmittedAt
	}
	return result
}
