package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/contexts/voting-core/ballot-engine/ports"
	"evoting/internal/shared/outbox"

	"github.com/google/uuid"
)

type slotKey struct {
	voterID  string
	election entities.ElectionRef
}

type fault struct {
	err       error
	remaining int
}

// Store is the in-process implementation of every ballot-engine port. One
// mutex serializes all writes, so each repository call is its own unit of work.
type Store struct {
	mu sync.RWMutex

	elections  map[entities.ElectionRef]entities.Election
	voters     map[string]entities.Voter
	positions  map[string]entities.Position
	candidates map[string]entities.Candidate

	ballots map[string]entities.Ballot
	slots   map[slotKey]entities.VoterSlot
	records []entities.VoteRecord
	audit   map[string]outbox.Message
	faults  map[string]*fault
}

func NewStore() *Store {
	return &Store{
		elections:  make(map[entities.ElectionRef]entities.Election),
		voters:     make(map[string]entities.Voter),
		positions:  make(map[string]entities.Position),
		candidates: make(map[string]entities.Candidate),
		ballots:    make(map[string]entities.Ballot),
		slots:      make(map[slotKey]entities.VoterSlot),
		audit:      make(map[string]outbox.Message),
		faults:     make(map[string]*fault),
	}
}

func (s *Store) SetElection(election entities.Election) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elections[election.Ref] = election
}

func (s *Store) SetVoter(voter entities.Voter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voters[strings.TrimSpace(voter.VoterID)] = voter
}

func (s *Store) SetPosition(position entities.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[position.PositionID] = position
}

// SetCandidate upserts a candidate but never resets an existing vote count.
func (s *Store) SetCandidate(candidate entities.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.candidates[candidate.CandidateID]; ok {
		candidate.VoteCount = existing.VoteCount
	}
	s.candidates[candidate.CandidateID] = candidate
}

func (s *Store) RemoveCandidate(candidateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candidates, candidateID)
}

// PutBallot writes a ballot without touching the voter slot. It exists to
// reproduce corrupted states.
func (s *Store) PutBallot(ballot entities.Ballot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ballots[ballot.BallotID] = ballot.Clone()
}

// FailNext makes the next count calls of operation return err.
func (s *Store) FailNext(operation string, err error, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[operation] = &fault{err: err, remaining: count}
}

func (s *Store) injected(operation string) error {
	f, ok := s.faults[operation]
	if !ok || f.remaining <= 0 {
		return nil
	}
	f.remaining--
	return f.err
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) GetElection(_ context.Context, ref entities.ElectionRef) (entities.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	election, ok := s.elections[ref]
	if !ok {
		return entities.Election{}, domainerrors.ErrElectionNotFound
	}
	return election, nil
}

func (s *Store) IsEligible(_ context.Context, voterID string, election entities.Election) (entities.Eligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voter, ok := s.voters[strings.TrimSpace(voterID)]
	if !ok {
		return entities.Eligibility{Reason: services.ReasonNotRegistered}, nil
	}
	return services.EvaluateEligibility(voter, election), nil
}

func (s *Store) GetPosition(_ context.Context, positionID string) (entities.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.positions[strings.TrimSpace(positionID)]
	if !ok {
		return entities.Position{}, domainerrors.ErrPositionNotFound
	}
	return position, nil
}

func (s *Store) GetCandidate(_ context.Context, candidateID string) (entities.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidate, ok := s.candidates[strings.TrimSpace(candidateID)]
	if !ok {
		return entities.Candidate{}, domainerrors.ErrCandidateNotFound
	}
	return candidate, nil
}

func (s *Store) ListPositions(_ context.Context, ref entities.ElectionRef) ([]entities.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Position, 0)
	for _, position := range s.positions {
		if position.Election == ref {
			items = append(items, position)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PositionID < items[j].PositionID })
	return items, nil
}

func (s *Store) ListCandidates(_ context.Context, ref entities.ElectionRef) ([]entities.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Candidate, 0)
	for _, candidate := range s.candidates {
		position, ok := s.positions[candidate.PositionID]
		if ok && position.Election == ref {
			items = append(items, candidate)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CandidateID < items[j].CandidateID })
	return items, nil
}

func (s *Store) GetBallot(_ context.Context, ballotID string) (entities.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ballot, ok := s.ballots[strings.TrimSpace(ballotID)]
	if !ok {
		return entities.Ballot{}, domainerrors.ErrBallotNotFound
	}
	return ballot.Clone(), nil
}

func (s *Store) GetSlot(_ context.Context, voterID string, ref entities.ElectionRef) (entities.VoterSlot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[slotKey{voterID: strings.TrimSpace(voterID), election: ref}]
	return slot, ok, nil
}

func (s *Store) LatestBallot(_ context.Context, voterID string, ref entities.ElectionRef) (entities.Ballot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest entities.Ballot
		found  bool
	)
	for _, ballot := range s.ballots {
		if ballot.VoterID != voterID || ballot.Election != ref {
			continue
		}
		if !found || ballot.StartedAt.After(latest.StartedAt) {
			latest = ballot
			found = true
		}
	}
	return latest.Clone(), found, nil
}

func (s *Store) ListOpenBallots(_ context.Context, voterID string, ref entities.ElectionRef) ([]entities.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Ballot, 0)
	for _, ballot := range s.ballots {
		if ballot.VoterID == voterID && ballot.Election == ref && ballot.State == entities.BallotStateOpen {
			items = append(items, ballot.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StartedAt.Before(items[j].StartedAt) })
	return items, nil
}

func (s *Store) OpenBallot(_ context.Context, ballot entities.Ballot, expectedSlotVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("open"); err != nil {
		return err
	}
	if _, exists := s.ballots[ballot.BallotID]; exists {
		return domainerrors.ErrConflict
	}
	key := slotKey{voterID: ballot.VoterID, election: ballot.Election}
	slot, exists := s.slots[key]
	switch {
	case !exists && expectedSlotVersion != 0:
		return domainerrors.ErrConflict
	case exists && (slot.Version != expectedSlotVersion || slot.State != entities.SlotStateIdle):
		return domainerrors.ErrConflict
	}
	s.ballots[ballot.BallotID] = ballot.Clone()
	s.slots[key] = entities.VoterSlot{
		VoterID:           ballot.VoterID,
		Election:          ballot.Election,
		State:             entities.SlotStateOpen,
		OpenBallotID:      ballot.BallotID,
		SubmittedBallotID: slot.SubmittedBallotID,
		Version:           slot.Version + 1,
		UpdatedAt:         ballot.StartedAt,
	}
	return nil
}

func (s *Store) ReplaceSelections(
	_ context.Context,
	ballotID string,
	expectedVersion int64,
	selections entities.Selections,
	now time.Time,
) (entities.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("replace_selections"); err != nil {
		return entities.Ballot{}, err
	}
	ballot, ok := s.ballots[ballotID]
	if !ok {
		return entities.Ballot{}, domainerrors.ErrBallotNotFound
	}
	if ballot.State != entities.BallotStateOpen ||
		ballot.Version != expectedVersion ||
		ballot.IsExpiredAt(now) {
		return entities.Ballot{}, domainerrors.ErrConflict
	}
	ballot.Selections = selections.Clone()
	ballot.Version++
	s.ballots[ballotID] = ballot
	return ballot.Clone(), nil
}

func (s *Store) SubmitBallot(_ context.Context, req ports.SubmitRequest) (entities.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("submit"); err != nil {
		return entities.Ballot{}, err
	}
	ballot, ok := s.ballots[req.BallotID]
	if !ok {
		return entities.Ballot{}, domainerrors.ErrBallotNotFound
	}
	if ballot.State != entities.BallotStateOpen ||
		ballot.Version != req.ExpectedVersion ||
		ballot.IsExpiredAt(req.SubmittedAt) {
		return entities.Ballot{}, domainerrors.ErrConflict
	}
	key := slotKey{voterID: ballot.VoterID, election: ballot.Election}
	slot, ok := s.slots[key]
	if !ok || slot.State != entities.SlotStateOpen || slot.OpenBallotID != ballot.BallotID {
		return entities.Ballot{}, domainerrors.ErrInvariantViolation
	}

	// Validate everything before mutating so a failure leaves no trace.
	for _, increment := range req.Increments {
		candidate, ok := s.candidates[increment.CandidateID]
		if !ok || candidate.PositionID != increment.PositionID {
			return entities.Ballot{}, domainerrors.ErrInvalidSelection
		}
		position, ok := s.positions[increment.PositionID]
		if !ok || position.Election != ballot.Election {
			return entities.Ballot{}, domainerrors.ErrInvalidSelection
		}
	}
	if err := s.injected("submit_apply"); err != nil {
		return entities.Ballot{}, err
	}

	for _, increment := range req.Increments {
		candidate := s.candidates[increment.CandidateID]
		candidate.VoteCount++
		s.candidates[increment.CandidateID] = candidate
	}
	s.records = append(s.records, req.Records...)
	submittedAt := req.SubmittedAt.UTC()
	ballot.State = entities.BallotStateSubmitted
	ballot.SubmittedAt = &submittedAt
	ballot.Version++
	s.ballots[ballot.BallotID] = ballot

	slot.State = entities.SlotStateVoted
	slot.OpenBallotID = ""
	slot.SubmittedBallotID = ballot.BallotID
	slot.Version++
	slot.UpdatedAt = submittedAt
	s.slots[key] = slot
	return ballot.Clone(), nil
}

func (s *Store) CloseBallot(_ context.Context, req ports.CloseRequest) (entities.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("close"); err != nil {
		return entities.Ballot{}, err
	}
	if req.To != entities.BallotStateAbandoned && req.To != entities.BallotStateExpired {
		return entities.Ballot{}, domainerrors.ErrInvalidInput
	}
	ballot, ok := s.ballots[req.BallotID]
	if !ok {
		return entities.Ballot{}, domainerrors.ErrBallotNotFound
	}
	if ballot.State != entities.BallotStateOpen || ballot.Version != req.ExpectedVersion {
		return entities.Ballot{}, domainerrors.ErrConflict
	}
	closedAt := req.ClosedAt.UTC()
	ballot.State = req.To
	ballot.ClosedAt = &closedAt
	ballot.Selections = entities.Selections{}
	ballot.Version++
	s.ballots[ballot.BallotID] = ballot

	key := slotKey{voterID: ballot.VoterID, election: ballot.Election}
	if slot, ok := s.slots[key]; ok && slot.State == entities.SlotStateOpen && slot.OpenBallotID == ballot.BallotID {
		slot.State = entities.SlotStateIdle
		slot.OpenBallotID = ""
		slot.Version++
		slot.UpdatedAt = closedAt
		s.slots[key] = slot
	}
	return ballot.Clone(), nil
}

func (s *Store) ListExpiredOpenBallots(_ context.Context, now time.Time, limit int) ([]entities.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Ballot, 0)
	for _, ballot := range s.ballots {
		if ballot.State == entities.BallotStateOpen && ballot.ExpiresAt.Before(now) {
			items = append(items, ballot.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ExpiresAt.Before(items[j].ExpiresAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CountSubmittedBallots(_ context.Context, ref entities.ElectionRef) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, ballot := range s.ballots {
		if ballot.Election == ref && ballot.State == entities.BallotStateSubmitted {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListVoteRecords(_ context.Context, ref entities.ElectionRef) ([]entities.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.VoteRecord, 0)
	for _, record := range s.records {
		if record.Election == ref {
			items = append(items, record)
		}
	}
	return items, nil
}

func (s *Store) AppendAudit(_ context.Context, message outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("audit"); err != nil {
		return err
	}
	if _, exists := s.audit[message.ID]; exists {
		return domainerrors.ErrConflict
	}
	message.Payload = append([]byte(nil), message.Payload...)
	if message.Status == "" {
		message.Status = outbox.StatusPending
	}
	s.audit[message.ID] = message
	return nil
}

func (s *Store) ListPendingAudit(_ context.Context, limit int) ([]outbox.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]outbox.Message, 0)
	for _, message := range s.audit {
		if message.Status == outbox.StatusPending {
			items = append(items, message)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkAuditPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.audit[outboxID]
	if !ok {
		return domainerrors.ErrConflict
	}
	message.Status = outbox.StatusPublished
	s.audit[outboxID] = message
	return nil
}

// AuditTypes lists recorded audit event types in creation order.
func (s *Store) AuditTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]outbox.Message, 0, len(s.audit))
	for _, message := range s.audit {
		items = append(items, message)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	types := make([]string, 0, len(items))
	for _, message := range items {
		types = append(types, message.EventType)
	}
	return types
}

var (
	_ ports.ElectionRegistry      = (*Store)(nil)
	_ ports.EligibilityResolver   = (*Store)(nil)
	_ ports.CandidateCatalog      = (*Store)(nil)
	_ ports.BallotRepository      = (*Store)(nil)
	_ ports.AuditOutboxWriter     = (*Store)(nil)
	_ ports.AuditOutboxRepository = (*Store)(nil)
	_ ports.Clock                 = (*Store)(nil)
	_ ports.IDGenerator           = (*Store)(nil)
)
