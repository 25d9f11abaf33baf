package queries

import (
	"context"
	"errors"
	"testing"
	"time"

	"evoting/contexts/voting-core/ballot-engine/adapters/memory"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time {
	return time.Time(c)
}

var testRef = entities.ElectionRef{Kind: entities.ElectionKindDepartmental, ID: "cs-2026"}

var base = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.SetPosition(entities.Position{PositionID: "rep", Election: testRef, Title: "Representative", MaxVotes: 2, DisplayOrder: 2})
	store.SetPosition(entities.Position{PositionID: "chair", Election: testRef, Title: "Chair", MaxVotes: 1, DisplayOrder: 1})
	store.SetCandidate(entities.Candidate{CandidateID: "c-1", PositionID: "chair", Name: "Cy"})
	store.SetCandidate(entities.Candidate{CandidateID: "c-2", PositionID: "chair", Name: "Cat"})
	store.SetCandidate(entities.Candidate{CandidateID: "r-1", PositionID: "rep", Name: "Ria"})
	store.SetCandidate(entities.Candidate{CandidateID: "r-2", PositionID: "rep", Name: "Rob"})
	return store
}

func openBallot(t *testing.T, store *memory.Store, ballotID string, voterID string, startedAt time.Time) entities.Ballot {
	t.Helper()
	ballot, err := entities.NewBallot(ballotID, voterID, testRef, startedAt, 15*time.Minute)
	if err != nil {
		t.Fatalf("new ballot: %v", err)
	}
	if err := store.OpenBallot(context.Background(), ballot, 0); err != nil {
		t.Fatalf("open ballot: %v", err)
	}
	return ballot
}

func submit(t *testing.T, store *memory.Store, ballot entities.Ballot, at time.Time, increments ...entities.TallyIncrement) {
	t.Helper()
	records := make([]entities.VoteRecord, 0, len(increments))
	for i, increment := range increments {
		records = append(records, entities.VoteRecord{
			RecordID:    ballot.BallotID + "-" + string(rune('a'+i)),
			BallotID:    ballot.BallotID,
			Election:    testRef,
			PositionID:  increment.PositionID,
			CandidateID: increment.CandidateID,
			CastAt:      at,
		})
	}
	if _, err := store.SubmitBallot(context.Background(), ports.SubmitRequest{
		BallotID:        ballot.BallotID,
		ExpectedVersion: ballot.Version,
		SubmittedAt:     at,
		Increments:      increments,
		Records:         records,
	}); err != nil {
		t.Fatalf("submit ballot: %v", err)
	}
}

func TestBallotStatusReportsEffectiveState(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	none, err := BallotStatusUseCase{Ballots: store, Clock: fixedClock(base)}.GetBallotStatus(ctx, "voter-1", testRef)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if none.State != StateNone || none.Ballot != nil {
		t.Fatalf("expected none, got %+v", none)
	}

	ballot := openBallot(t, store, "b-1", "voter-1", base)
	open, err := BallotStatusUseCase{Ballots: store, Clock: fixedClock(base.Add(time.Minute))}.GetBallotStatus(ctx, "voter-1", testRef)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if open.State != string(entities.BallotStateOpen) || open.ExpiresAt == nil || !open.ExpiresAt.Equal(ballot.ExpiresAt) {
		t.Fatalf("unexpected open status: %+v", open)
	}

	late, err := BallotStatusUseCase{Ballots: store, Clock: fixedClock(base.Add(time.Hour))}.GetBallotStatus(ctx, "voter-1", testRef)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if late.State != string(entities.BallotStateExpired) {
		t.Fatalf("expected expired effective state, got %s", late.State)
	}
	stored, _ := store.GetBallot(ctx, "b-1")
	if stored.State != entities.BallotStateOpen {
		t.Fatalf("status must not mutate storage, got %s", stored.State)
	}

	submitAt := base.Add(2 * time.Minute)
	submit(t, store, ballot, submitAt, entities.TallyIncrement{PositionID: "chair", CandidateID: "c-1"})
	voted, err := BallotStatusUseCase{Ballots: store, Clock: fixedClock(base.Add(time.Hour))}.GetBallotStatus(ctx, "voter-1", testRef)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if voted.State != string(entities.BallotStateSubmitted) || voted.SubmittedAt == nil || !voted.SubmittedAt.Equal(submitAt) {
		t.Fatalf("unexpected submitted status: %+v", voted)
	}

	if _, err := (BallotStatusUseCase{Ballots: store}).GetBallotStatus(ctx, " ", testRef); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestBallotStatusFallsBackToLatestClosedBallot(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	ballot := openBallot(t, store, "b-1", "voter-1", base)
	if _, err := store.CloseBallot(ctx, ports.CloseRequest{
		BallotID:        ballot.BallotID,
		To:              entities.BallotStateAbandoned,
		ExpectedVersion: ballot.Version,
		ClosedAt:        base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("close: %v", err)
	}
	status, err := BallotStatusUseCase{Ballots: store, Clock: fixedClock(base.Add(2 * time.Minute))}.GetBallotStatus(ctx, "voter-1", testRef)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != string(entities.BallotStateAbandoned) || status.ExpiresAt != nil {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestElectionTallyAndVerification(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	first := openBallot(t, store, "b-1", "voter-1", base)
	submit(t, store, first, base.Add(time.Minute),
		entities.TallyIncrement{PositionID: "chair", CandidateID: "c-2"},
		entities.TallyIncrement{PositionID: "rep", CandidateID: "r-1"},
	)
	second := openBallot(t, store, "b-2", "voter-2", base)
	submit(t, store, second, base.Add(time.Minute),
		entities.TallyIncrement{PositionID: "chair", CandidateID: "c-2"},
		entities.TallyIncrement{PositionID: "rep", CandidateID: "r-1"},
		entities.TallyIncrement{PositionID: "rep", CandidateID: "r-2"},
	)
	openBallot(t, store, "b-3", "voter-3", base)

	uc := TallyUseCase{Catalog: store, Ballots: store}
	tally, err := uc.ElectionTally(ctx, testRef)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.SubmittedBallots != 2 {
		t.Fatalf("expected 2 submitted ballots, got %d", tally.SubmittedBallots)
	}
	if len(tally.Positions) != 2 || tally.Positions[0].PositionID != "chair" {
		t.Fatalf("expected positions in display order, got %+v", tally.Positions)
	}
	chair := tally.Positions[0]
	if chair.TotalVotes != 2 || chair.Candidates[0].CandidateID != "c-2" || chair.Candidates[0].Votes != 2 {
		t.Fatalf("unexpected chair tally: %+v", chair)
	}
	if rep := tally.Positions[1]; rep.TotalVotes != 3 {
		t.Fatalf("unexpected rep total: %+v", rep)
	}

	verification, err := uc.VerifyTally(ctx, testRef)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verification.Consistent || len(verification.Mismatches) != 0 {
		t.Fatalf("expected consistent tally, got %+v", verification)
	}

	if _, err := uc.ElectionTally(ctx, entities.ElectionRef{}); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestVerifyTallyReportsDrift(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	ballot := openBallot(t, store, "b-1", "voter-1", base)
	submit(t, store, ballot, base.Add(time.Minute), entities.TallyIncrement{PositionID: "chair", CandidateID: "c-1"})

	// A catalog reload that forgets the candidate leaves an orphaned record.
	store.RemoveCandidate("c-1")

	verification, err := TallyUseCase{Catalog: store, Ballots: store}.VerifyTally(ctx, testRef)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Consistent || len(verification.Mismatches) != 1 {
		t.Fatalf("expected one mismatch, got %+v", verification)
	}
	mismatch := verification.Mismatches[0]
	if mismatch.CandidateID != "c-1" || mismatch.Records != 1 || mismatch.Counter != 0 {
		t.Fatalf("unexpected mismatch: %+v", mismatch)
	}
}
