package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
)

// CastSelectionCommand sets the voter's choices for a single position.
type CastSelectionCommand struct {
	BallotID     string
	VoterID      string
	PositionID   string
	CandidateIDs []string
}

// CastSlateCommand replaces the selection sets of several positions at once.
type CastSlateCommand struct {
	BallotID string
	VoterID  string
	Slate    map[string][]string
}

// CastSelectionResult carries the ballot after the selections were saved.
type CastSelectionResult struct {
	Ballot entities.Ballot
}

// CastSelection replaces the voter's choices for one position on an open
// ballot. Re-casting overwrites; an empty set clears the position.
func (uc BallotUseCase) CastSelection(ctx context.Context, cmd CastSelectionCommand) (CastSelectionResult, error) {
	positionID := strings.TrimSpace(cmd.PositionID)
	if positionID == "" {
		logger := application.ResolveLogger(uc.Logger)
		return CastSelectionResult{}, uc.reject(logger, "cast", domainerrors.ErrInvalidInput,
			"ballot_id", strings.TrimSpace(cmd.BallotID),
		)
	}
	return uc.CastSlate(ctx, CastSlateCommand{
		BallotID: cmd.BallotID,
		VoterID:  cmd.VoterID,
		Slate:    map[string][]string{positionID: cmd.CandidateIDs},
	})
}

// CastSlate replaces the choices of every position named in the slate in a
// single conditional write.
func (uc BallotUseCase) CastSlate(ctx context.Context, cmd CastSlateCommand) (CastSelectionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ballotID := strings.TrimSpace(cmd.BallotID)
	voterID := strings.TrimSpace(cmd.VoterID)
	logger.Info("ballot cast processing started",
		"event", "ballot_cast_started",
		"module", application.ModuleName,
		"layer", "application",
		"ballot_id", ballotID,
		"voter_id", voterID,
		"positions", len(cmd.Slate),
	)
	if ballotID == "" || voterID == "" || len(cmd.Slate) == 0 {
		return CastSelectionResult{}, uc.reject(logger, "cast", domainerrors.ErrInvalidInput,
			"ballot_id", ballotID,
			"voter_id", voterID,
		)
	}

	var (
		saved   entities.Ballot
		slate   map[string][]string
		expired *entities.Ballot
	)
	// Selections are validated only once the ballot is known to be open, so a
	// closed ballot reports its state rather than the selection error.
	err := uc.retry().Do(ctx, func(attempt int) error {
		current, err := uc.loadOwnedBallot(ctx, ballotID, voterID)
		if err != nil {
			return err
		}
		if current.State != entities.BallotStateOpen {
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
		validated, err := uc.validateSlate(ctx, current.Election, cmd.Slate)
		if err != nil {
			return err
		}
		slate = validated
		selections := current.Selections
		for _, positionID := range sortedKeys(slate) {
			selections = selections.Replace(positionID, slate[positionID])
		}
		saved, err = uc.Ballots.ReplaceSelections(ctx, ballotID, current.Version, selections, now)
		if isConflict(err) {
			uc.Metrics.Conflict("cast")
		}
		return err
	})
	if expired != nil {
		uc.Metrics.BallotExpired("lazy")
		recordAudit(ctx, uc.Audit, uc.Metrics, logger, expiredEvent(*expired, "lazy_on_cast"))
	}
	if err != nil {
		return CastSelectionResult{}, uc.reject(logger, "cast", err, "ballot_id", ballotID, "voter_id", voterID)
	}

	recordAudit(ctx, uc.Audit, uc.Metrics, logger, entities.AuditEvent{
		Type:       entities.AuditSelectionCast,
		ActorID:    voterID,
		Election:   saved.Election,
		BallotID:   saved.BallotID,
		Details:    map[string]any{"positions": sortedKeys(slate)},
		OccurredAt: uc.now(),
	})
	logger.Info("ballot cast completed",
		"event", "ballot_cast_completed",
		"module", application.ModuleName,
		"layer", "application",
		"ballot_id", ballotID,
		"voter_id", voterID,
		"selected", saved.Selections.Count(),
	)
	return CastSelectionResult{Ballot: saved}, nil
}

// validateSlate checks every position against the catalog: the position must
// belong to the ballot's election, each candidate to the position, and the
// set must fit within maxVotes.
func (uc BallotUseCase) validateSlate(
	ctx context.Context,
	ref entities.ElectionRef,
	slate map[string][]string,
) (map[string][]string, error) {
	out := make(map[string][]string, len(slate))
	for rawPositionID, candidateIDs := range slate {
		positionID := strings.TrimSpace(rawPositionID)
		position, err := uc.Catalog.GetPosition(ctx, positionID)
		if errors.Is(err, domainerrors.ErrPositionNotFound) {
			return nil, fmt.Errorf("%w: unknown position %s", domainerrors.ErrInvalidSelection, positionID)
		}
		if err != nil {
			return nil, err
		}
		if position.Election != ref {
			return nil, fmt.Errorf("%w: position %s is not on this ballot", domainerrors.ErrInvalidSelection, positionID)
		}
		candidates, err := uc.lookupCandidates(ctx, candidateIDs)
		if err != nil {
			return nil, err
		}
		normalized, err := services.ValidateSelection(position, candidateIDs, func(candidateID string) (entities.Candidate, bool) {
			candidate, ok := candidates[candidateID]
			return candidate, ok
		})
		if err != nil {
			return nil, err
		}
		out[positionID] = normalized
	}
	return out, nil
}

func (uc BallotUseCase) lookupCandidates(ctx context.Context, candidateIDs []string) (map[string]entities.Candidate, error) {
	found := make(map[string]entities.Candidate, len(candidateIDs))
	for _, raw := range candidateIDs {
		candidateID := strings.TrimSpace(raw)
		if candidateID == "" {
			continue
		}
		candidate, err := uc.Catalog.GetCandidate(ctx, candidateID)
		if errors.Is(err, domainerrors.ErrCandidateNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[candidateID] = candidate
	}
	return found, nil
}

func sortedKeys(values map[string][]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
