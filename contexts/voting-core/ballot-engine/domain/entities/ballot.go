package entities

import (
	"sort"
	"strings"
	"time"

	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
)

// BallotState is the lifecycle position of a ballot. Only open is not terminal.
type BallotState string

const (
	BallotStateOpen      BallotState = "open"
	BallotStateSubmitted BallotState = "submitted"
	BallotStateAbandoned BallotState = "abandoned"
	BallotStateExpired   BallotState = "expired"
)

func (s BallotState) Terminal() bool {
	switch s {
	case BallotStateSubmitted, BallotStateAbandoned, BallotStateExpired:
		return true
	default:
		return false
	}
}

// Selections maps position id to the chosen candidate ids.
type Selections map[string][]string

func (s Selections) Clone() Selections {
	out := make(Selections, len(s))
	for positionID, candidateIDs := range s {
		out[positionID] = append([]string(nil), candidateIDs...)
	}
	return out
}

// Replace overwrites one position's set. An empty set removes the position.
func (s Selections) Replace(positionID string, candidateIDs []string) Selections {
	out := s.Clone()
	if len(candidateIDs) == 0 {
		delete(out, positionID)
		return out
	}
	out[positionID] = append([]string(nil), candidateIDs...)
	return out
}

func (s Selections) Count() int {
	total := 0
	for _, candidateIDs := range s {
		total += len(candidateIDs)
	}
	return total
}

func (s Selections) PositionIDs() []string {
	ids := make([]string, 0, len(s))
	for positionID := range s {
		ids = append(ids, positionID)
	}
	sort.Strings(ids)
	return ids
}

// Ballot is one voting session of a voter in an election. Version increments
// on every write and guards conditional updates.
type Ballot struct {
	BallotID    string
	VoterID     string
	Election    ElectionRef
	State       BallotState
	StartedAt   time.Time
	ExpiresAt   time.Time
	SubmittedAt *time.Time
	ClosedAt    *time.Time
	Selections  Selections
	Version     int64
}

// NewBallot opens a ballot that expires ttl after startedAt.
func NewBallot(
	ballotID string,
	voterID string,
	election ElectionRef,
	startedAt time.Time,
	ttl time.Duration,
) (Ballot, error) {
	if strings.TrimSpace(ballotID) == "" ||
		strings.TrimSpace(voterID) == "" ||
		!election.Valid() ||
		ttl <= 0 {
		return Ballot{}, domainerrors.ErrInvalidInput
	}
	return Ballot{
		BallotID:   strings.TrimSpace(ballotID),
		VoterID:    strings.TrimSpace(voterID),
		Election:   election,
		State:      BallotStateOpen,
		StartedAt:  startedAt.UTC(),
		ExpiresAt:  startedAt.UTC().Add(ttl),
		Selections: Selections{},
		Version:    1,
	}, nil
}

// IsExpiredAt is true once now is strictly past ExpiresAt.
func (b Ballot) IsExpiredAt(now time.Time) bool {
	return now.UTC().After(b.ExpiresAt)
}

func (b Ballot) OwnedBy(voterID string) bool {
	return strings.TrimSpace(voterID) != "" && b.VoterID == strings.TrimSpace(voterID)
}

// EffectiveState reports an open ballot past its deadline as expired even
// before the reaper has persisted the transition.
func (b Ballot) EffectiveState(now time.Time) BallotState {
	if b.State == BallotStateOpen && b.IsExpiredAt(now) {
		return BallotStateExpired
	}
	return b.State
}

func (b Ballot) Clone() Ballot {
	out := b
	out.Selections = b.Selections.Clone()
	if b.SubmittedAt != nil {
		value := *b.SubmittedAt
		out.SubmittedAt = &value
	}
	if b.ClosedAt != nil {
		value := *b.ClosedAt
		out.ClosedAt = &value
	}
	return out
}

// SlotState tracks whether a voter is idle, mid-ballot, or done.
type SlotState string

const (
	SlotStateIdle  SlotState = "idle"
	SlotStateOpen  SlotState = "open"
	SlotStateVoted SlotState = "voted"
)

// VoterSlot is the per (voter, election) guard row. It references the single
// open ballot and, once voted, the single submitted ballot.
type VoterSlot struct {
	VoterID           string
	Election          ElectionRef
	State             SlotState
	OpenBallotID      string
	SubmittedBallotID string
	Version           int64
	UpdatedAt         time.Time
}

// VoteRecord is the per-choice audit row written for submitted ballots.
type VoteRecord struct {
	RecordID    string
	BallotID    string
	Election    ElectionRef
	PositionID  string
	CandidateID string
	CastAt      time.Time
}

// TallyIncrement adds one vote to a candidate under a position.
type TallyIncrement struct {
	PositionID  string
	CandidateID string
}
