package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/ports"
	"evoting/internal/shared/outbox"
)

var testRef = entities.ElectionRef{Kind: entities.ElectionKindSSG, ID: "ssg-2026"}

func newBallot(t *testing.T, ballotID string, voterID string, startedAt time.Time) entities.Ballot {
	t.Helper()
	ballot, err := entities.NewBallot(ballotID, voterID, testRef, startedAt, 10*time.Minute)
	if err != nil {
		t.Fatalf("new ballot: %v", err)
	}
	return ballot
}

func TestOpenBallotGuardsTheSlot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	first := newBallot(t, "b-1", "voter-1", now)
	if err := store.OpenBallot(ctx, first, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.OpenBallot(ctx, newBallot(t, "b-2", "voter-1", now), 0); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for second open, got %v", err)
	}
	slot, found, err := store.GetSlot(ctx, "voter-1", testRef)
	if err != nil || !found {
		t.Fatalf("get slot: %v found=%v", err, found)
	}
	if slot.State != entities.SlotStateOpen || slot.OpenBallotID != "b-1" || slot.Version != 1 {
		t.Fatalf("unexpected slot: %+v", slot)
	}
	if err := store.OpenBallot(ctx, newBallot(t, "b-3", "voter-1", now), slot.Version); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict while slot is open, got %v", err)
	}

	closed, err := store.CloseBallot(ctx, ports.CloseRequest{
		BallotID:        "b-1",
		To:              entities.BallotStateAbandoned,
		ExpectedVersion: first.Version,
		ClosedAt:        now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State != entities.BallotStateAbandoned || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed ballot: %+v", closed)
	}
	slot, _, _ = store.GetSlot(ctx, "voter-1", testRef)
	if slot.State != entities.SlotStateIdle || slot.OpenBallotID != "" {
		t.Fatalf("expected idle slot, got %+v", slot)
	}
	if err := store.OpenBallot(ctx, newBallot(t, "b-4", "voter-1", now.Add(2*time.Minute)), slot.Version); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCloseBallotRejectsOtherTargets(t *testing.T) {
	store := NewStore()
	ballot := newBallot(t, "b-1", "voter-1", time.Now())
	if err := store.OpenBallot(context.Background(), ballot, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := store.CloseBallot(context.Background(), ports.CloseRequest{
		BallotID:        "b-1",
		To:              entities.BallotStateSubmitted,
		ExpectedVersion: ballot.Version,
		ClosedAt:        time.Now(),
	})
	if !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = store.CloseBallot(context.Background(), ports.CloseRequest{
		BallotID:        "b-1",
		To:              entities.BallotStateExpired,
		ExpectedVersion: ballot.Version + 1,
		ClosedAt:        time.Now(),
	})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
}

func TestSetCandidateKeepsVoteCount(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store.SetPosition(entities.Position{PositionID: "president", Election: testRef, MaxVotes: 1})
	store.SetCandidate(entities.Candidate{CandidateID: "p-ana", PositionID: "president", Name: "Ana"})

	ballot := newBallot(t, "b-1", "voter-1", now)
	if err := store.OpenBallot(ctx, ballot, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.SubmitBallot(ctx, ports.SubmitRequest{
		BallotID:        "b-1",
		ExpectedVersion: ballot.Version,
		SubmittedAt:     now.Add(time.Minute),
		Increments:      []entities.TallyIncrement{{PositionID: "president", CandidateID: "p-ana"}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	store.SetCandidate(entities.Candidate{CandidateID: "p-ana", PositionID: "president", Name: "Ana Reyes"})
	candidate, err := store.GetCandidate(ctx, "p-ana")
	if err != nil {
		t.Fatalf("get candidate: %v", err)
	}
	if candidate.VoteCount != 1 || candidate.Name != "Ana Reyes" {
		t.Fatalf("unexpected candidate after upsert: %+v", candidate)
	}
}

func TestSubmitPastDeadlineConflicts(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	ballot := newBallot(t, "b-1", "voter-1", now)
	if err := store.OpenBallot(context.Background(), ballot, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := store.SubmitBallot(context.Background(), ports.SubmitRequest{
		BallotID:        "b-1",
		ExpectedVersion: ballot.Version,
		SubmittedAt:     ballot.ExpiresAt.Add(time.Second),
	})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict past deadline, got %v", err)
	}
}

func TestFailNextConsumesCount(t *testing.T) {
	store := NewStore()
	boom := errors.New("boom")
	store.FailNext("audit", boom, 2)

	message := outbox.Message{ID: "m-1", EventType: "BALLOT_STARTED", CreatedAt: time.Now()}
	for i := 0; i < 2; i++ {
		if err := store.AppendAudit(context.Background(), message); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected injected error, got %v", i, err)
		}
	}
	if err := store.AppendAudit(context.Background(), message); err != nil {
		t.Fatalf("expected fault to be consumed, got %v", err)
	}
}

func TestAuditOutboxLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"m-2", "m-1", "m-3"} {
		if err := store.AppendAudit(ctx, outbox.Message{
			ID:        id,
			EventType: "BALLOT_STARTED",
			Payload:   []byte(`{}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := store.AppendAudit(ctx, outbox.Message{ID: "m-1"}); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected duplicate id conflict, got %v", err)
	}

	pending, err := store.ListPendingAudit(ctx, 2)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "m-2" || pending[1].ID != "m-1" {
		t.Fatalf("expected creation order with limit, got %+v", pending)
	}
	if err := store.MarkAuditPublished(ctx, "m-2", base); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := store.MarkAuditPublished(ctx, "missing", base); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for unknown row, got %v", err)
	}
	pending, _ = store.ListPendingAudit(ctx, 0)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending rows, got %d", len(pending))
	}
}
