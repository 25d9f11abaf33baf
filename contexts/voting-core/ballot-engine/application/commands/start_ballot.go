package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
)

// StartBallotCommand asks for the voter's open ballot in an election.
type StartBallotCommand struct {
	VoterID  string
	Election entities.ElectionRef
}

// StartBallotResult carries the open ballot. Resumed is set when an existing
// unexpired ballot was returned instead of a new one.
type StartBallotResult struct {
	Ballot  entities.Ballot
	Resumed bool
}

type startOutcome struct {
	result   StartBallotResult
	expired  []entities.Ballot
	repaired []entities.Ballot
}

// StartBallot opens a ballot for (voter, election) or returns the one already
// open. Concurrent starts for the same key converge on a single open ballot.
func (uc BallotUseCase) StartBallot(ctx context.Context, cmd StartBallotCommand) (StartBallotResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	voterID := strings.TrimSpace(cmd.VoterID)
	logger.Info("ballot start processing started",
		"event", "ballot_start_started",
		"module", application.ModuleName,
		"layer", "application",
		"voter_id", voterID,
		"election", cmd.Election.Key(),
	)
	if voterID == "" || !cmd.Election.Valid() {
		return StartBallotResult{}, uc.reject(logger, "start", domainerrors.ErrInvalidInput,
			"voter_id", voterID,
		)
	}

	election, err := uc.Elections.GetElection(ctx, cmd.Election)
	if err != nil {
		return StartBallotResult{}, uc.reject(logger, "start", err,
			"voter_id", voterID,
			"election", cmd.Election.Key(),
		)
	}
	if !election.AcceptsVotesAt(uc.now(), uc.location()) {
		return StartBallotResult{}, uc.reject(logger, "start", domainerrors.ErrElectionNotVotable,
			"voter_id", voterID,
			"election", cmd.Election.Key(),
			"status", string(election.Status),
		)
	}
	eligibility, err := uc.Eligibility.IsEligible(ctx, voterID, election)
	if err != nil {
		return StartBallotResult{}, uc.reject(logger, "start", err,
			"voter_id", voterID,
			"election", cmd.Election.Key(),
		)
	}
	if !eligibility.Eligible {
		return StartBallotResult{}, uc.reject(logger, "start",
			fmt.Errorf("%w: %s", domainerrors.ErrNotEligible, eligibility.Reason),
			"voter_id", voterID,
			"election", cmd.Election.Key(),
			"reason", eligibility.Reason,
		)
	}

	var outcome startOutcome
	err = uc.retry().Do(ctx, func(attempt int) error {
		step, err := uc.startAttempt(ctx, logger, voterID, cmd.Election)
		outcome.expired = append(outcome.expired, step.expired...)
		outcome.repaired = append(outcome.repaired, step.repaired...)
		if err != nil {
			if isConflict(err) {
				uc.Metrics.Conflict("start")
				logger.Debug("ballot start conflict, retrying",
					"event", "ballot_start_conflict",
					"module", application.ModuleName,
					"layer", "application",
					"voter_id", voterID,
					"election", cmd.Election.Key(),
					"attempt", attempt,
				)
			}
			return err
		}
		outcome.result = step.result
		return nil
	})

	for _, ballot := range outcome.expired {
		uc.Metrics.BallotExpired("lazy")
		recordAudit(ctx, uc.Audit, uc.Metrics, logger, expiredEvent(ballot, "lazy_on_start"))
	}
	for _, ballot := range outcome.repaired {
		recordAudit(ctx, uc.Audit, uc.Metrics, logger, entities.AuditEvent{
			Type:       entities.AuditBallotInvariantRepaired,
			ActorID:    ballot.VoterID,
			Election:   ballot.Election,
			BallotID:   ballot.BallotID,
			Details:    map[string]any{"resolution": "expired_duplicate_open_ballot"},
			OccurredAt: uc.now(),
		})
	}
	if err != nil {
		return StartBallotResult{}, uc.reject(logger, "start", err,
			"voter_id", voterID,
			"election", cmd.Election.Key(),
		)
	}

	ballot := outcome.result.Ballot
	eventType := entities.AuditBallotStarted
	if outcome.result.Resumed {
		eventType = entities.AuditBallotResumed
		uc.Metrics.BallotResumed()
	} else {
		uc.Metrics.BallotStarted()
	}
	recordAudit(ctx, uc.Audit, uc.Metrics, logger, entities.AuditEvent{
		Type:     eventType,
		ActorID:  voterID,
		Election: ballot.Election,
		BallotID: ballot.BallotID,
		Details: map[string]any{
			"expires_at": ballot.ExpiresAt,
		},
		OccurredAt: uc.now(),
	})
	logger.Info("ballot start completed",
		"event", "ballot_start_completed",
		"module", application.ModuleName,
		"layer", "application",
		"voter_id", voterID,
		"election", ballot.Election.Key(),
		"ballot_id", ballot.BallotID,
		"resumed", outcome.result.Resumed,
		"expires_at", ballot.ExpiresAt,
	)
	return outcome.result, nil
}

// startAttempt walks the voter slot until it either returns the open ballot,
// opens a new one, or hits a terminal rejection.
func (uc BallotUseCase) startAttempt(
	ctx context.Context,
	logger *slog.Logger,
	voterID string,
	ref entities.ElectionRef,
) (startOutcome, error) {
	var outcome startOutcome
	for step := 0; step < maxTransitionSteps; step++ {
		now := uc.now()
		slot, found, err := uc.Ballots.GetSlot(ctx, voterID, ref)
		if err != nil {
			return outcome, err
		}

		if found && slot.State == entities.SlotStateVoted {
			return outcome, domainerrors.ErrAlreadyVoted
		}

		if found && slot.State == entities.SlotStateOpen {
			current, err := uc.Ballots.GetBallot(ctx, slot.OpenBallotID)
			if errors.Is(err, domainerrors.ErrBallotNotFound) {
				moved, err := uc.slotMoved(ctx, slot)
				if err != nil {
					return outcome, err
				}
				if moved {
					continue
				}
				return outcome, invariantError("slot references missing ballot %s", slot.OpenBallotID)
			}
			if err != nil {
				return outcome, err
			}
			if current.State != entities.BallotStateOpen {
				// The slot and ballot reads are not a snapshot; a transition
				// committed between them moves the slot.
				moved, err := uc.slotMoved(ctx, slot)
				if err != nil {
					return outcome, err
				}
				if moved {
					continue
				}
				return outcome, invariantError("slot references %s ballot %s", current.State, current.BallotID)
			}
			if current.IsExpiredAt(now) {
				closed, err := uc.expireLazily(ctx, current, now)
				if isConflict(err) {
					continue
				}
				if err != nil {
					return outcome, err
				}
				outcome.expired = append(outcome.expired, closed)
				continue
			}
			repaired, err := uc.repairDuplicateOpen(ctx, logger, slot, found, current.BallotID)
			outcome.repaired = append(outcome.repaired, repaired...)
			if isConflict(err) {
				continue
			}
			if err != nil {
				return outcome, err
			}
			outcome.result = StartBallotResult{Ballot: current, Resumed: true}
			return outcome, nil
		}

		// Slot is idle or missing, so no ballot may be open for this key.
		if !found {
			slot = entities.VoterSlot{VoterID: voterID, Election: ref}
		}
		repaired, err := uc.repairDuplicateOpen(ctx, logger, slot, found, "")
		outcome.repaired = append(outcome.repaired, repaired...)
		if isConflict(err) {
			continue
		}
		if err != nil {
			return outcome, err
		}

		ballotID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return outcome, err
		}
		ballot, err := entities.NewBallot(ballotID, voterID, ref, now, uc.ttl())
		if err != nil {
			return outcome, err
		}
		var expectedVersion int64
		if found {
			expectedVersion = slot.Version
		}
		err = uc.Ballots.OpenBallot(ctx, ballot, expectedVersion)
		if isConflict(err) {
			continue
		}
		if err != nil {
			return outcome, err
		}
		outcome.result = StartBallotResult{Ballot: ballot}
		return outcome, nil
	}
	return outcome, domainerrors.ErrConflict
}

// slotMoved reports whether the voter slot changed since seen was read.
func (uc BallotUseCase) slotMoved(ctx context.Context, seen entities.VoterSlot) (bool, error) {
	current, found, err := uc.Ballots.GetSlot(ctx, seen.VoterID, seen.Election)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return current.Version != seen.Version ||
		current.State != seen.State ||
		current.OpenBallotID != seen.OpenBallotID, nil
}

// repairDuplicateOpen expires every open ballot for the slot's key other than
// keepID. Finding any is an invariant violation: the slot admits one open
// ballot. The slot is re-read first; if it moved since the caller saw it the
// listing may contain a legitimately opened ballot and ErrConflict is returned.
func (uc BallotUseCase) repairDuplicateOpen(
	ctx context.Context,
	logger *slog.Logger,
	seen entities.VoterSlot,
	seenFound bool,
	keepID string,
) ([]entities.Ballot, error) {
	open, err := uc.Ballots.ListOpenBallots(ctx, seen.VoterID, seen.Election)
	if err != nil {
		return nil, err
	}
	stale := make([]entities.Ballot, 0, len(open))
	for _, ballot := range open {
		if ballot.BallotID != keepID {
			stale = append(stale, ballot)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}
	current, found, err := uc.Ballots.GetSlot(ctx, seen.VoterID, seen.Election)
	if err != nil {
		return nil, err
	}
	if found != seenFound || current.Version != seen.Version {
		return nil, domainerrors.ErrConflict
	}

	var repaired []entities.Ballot
	for _, ballot := range stale {
		logger.Error("duplicate open ballot detected",
			"event", "ballot_invariant_violation",
			"module", application.ModuleName,
			"layer", "application",
			"voter_id", seen.VoterID,
			"election", seen.Election.Key(),
			"kept_ballot_id", keepID,
			"expired_ballot_id", ballot.BallotID,
		)
		closed, err := uc.expireLazily(ctx, ballot, uc.now())
		if isConflict(err) {
			continue
		}
		if err != nil {
			return repaired, err
		}
		repaired = append(repaired, closed)
	}
	uc.Metrics.InvariantRepaired(len(repaired))
	return repaired, nil
}
