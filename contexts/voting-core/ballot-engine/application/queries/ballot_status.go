package queries

import (
	"context"
	"strings"
	"time"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

// StateNone is reported when the voter never started a ballot.
const StateNone = "none"

// BallotStatus is the effective state of a voter's ballot in an election.
type BallotStatus struct {
	State       string
	Ballot      *entities.Ballot
	ExpiresAt   *time.Time
	SubmittedAt *time.Time
}

// BallotStatusUseCase answers ballot status reads.
type BallotStatusUseCase struct {
	Ballots ports.BallotRepository
	Clock   ports.Clock
}

// GetBallotStatus reports the voter's ballot for an election. An open ballot
// past its deadline is reported as expired without mutating storage.
func (uc BallotStatusUseCase) GetBallotStatus(
	ctx context.Context,
	voterID string,
	ref entities.ElectionRef,
) (BallotStatus, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" || !ref.Valid() {
		return BallotStatus{}, domainerrors.ErrInvalidInput
	}

	slot, found, err := uc.Ballots.GetSlot(ctx, voterID, ref)
	if err != nil {
		return BallotStatus{}, err
	}
	var ballot entities.Ballot
	switch {
	case found && slot.State == entities.SlotStateVoted:
		ballot, err = uc.Ballots.GetBallot(ctx, slot.SubmittedBallotID)
	case found && slot.State == entities.SlotStateOpen:
		ballot, err = uc.Ballots.GetBallot(ctx, slot.OpenBallotID)
	default:
		var latest bool
		ballot, latest, err = uc.Ballots.LatestBallot(ctx, voterID, ref)
		if err == nil && !latest {
			return BallotStatus{State: StateNone}, nil
		}
	}
	if err != nil {
		return BallotStatus{}, err
	}

	status := BallotStatus{
		State:       string(ballot.EffectiveState(uc.now())),
		Ballot:      &ballot,
		SubmittedAt: ballot.SubmittedAt,
	}
	if ballot.State == entities.BallotStateOpen {
		expiresAt := ballot.ExpiresAt
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

func (uc BallotStatusUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}
