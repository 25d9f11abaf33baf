package ballotengine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ballotengine "evoting/contexts/voting-core/ballot-engine"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	httptransport "evoting/contexts/voting-core/ballot-engine/transport/http"
	"evoting/internal/shared/events"
)

type moduleClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *moduleClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *moduleClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturePublisher struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

func (p *capturePublisher) Publish(_ context.Context, _ string, envelope events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, envelope)
	return nil
}

var (
	ssgRef  = entities.ElectionRef{Kind: entities.ElectionKindSSG, ID: "2026"}
	deptRef = entities.ElectionRef{Kind: entities.ElectionKindDepartmental, ID: "2026"}
)

func newModule(t *testing.T) (ballotengine.Module, *moduleClock) {
	t.Helper()
	clock := &moduleClock{now: time.Date(2026, 10, 16, 1, 0, 0, 0, time.UTC)}
	module := ballotengine.NewInMemoryModule(clock, nil)
	electionDate := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	window := &entities.BallotWindow{Open: entities.TimeOfDay{Hour: 0}, Close: entities.TimeOfDay{Hour: 12}}
	module.Store.SetElection(entities.Election{Ref: ssgRef, Status: entities.ElectionStatusActive, ElectionDate: electionDate, Window: window})
	module.Store.SetElection(entities.Election{Ref: deptRef, Status: entities.ElectionStatusActive, ElectionDate: electionDate, Window: window, DepartmentID: "CS"})
	module.Store.SetVoter(entities.Voter{VoterID: "student-1", DepartmentID: "CS", Registered: true, Active: true})
	module.Store.SetVoter(entities.Voter{VoterID: "student-2", DepartmentID: "EE", Registered: true, Active: true})
	module.Store.SetPosition(entities.Position{PositionID: "ssg-president", Election: ssgRef, Title: "President", MaxVotes: 1})
	module.Store.SetPosition(entities.Position{PositionID: "cs-governor", Election: deptRef, Title: "Governor", MaxVotes: 1})
	module.Store.SetCandidate(entities.Candidate{CandidateID: "ssg-a", PositionID: "ssg-president", Name: "Alma"})
	module.Store.SetCandidate(entities.Candidate{CandidateID: "ssg-b", PositionID: "ssg-president", Name: "Bea"})
	module.Store.SetCandidate(entities.Candidate{CandidateID: "cs-a", PositionID: "cs-governor", Name: "Cris"})
	return module, clock
}

func TestVoterParticipatesInBothElectionKinds(t *testing.T) {
	module, _ := newModule(t)
	ctx := context.Background()

	ssg, err := module.Handler.StartBallotHandler(ctx, "student-1", "ssg", "2026")
	if err != nil {
		t.Fatalf("start ssg ballot: %v", err)
	}
	dept, err := module.Handler.StartBallotHandler(ctx, "student-1", "departmental", "2026")
	if err != nil {
		t.Fatalf("start departmental ballot: %v", err)
	}
	if ssg.Ballot.BallotID == dept.Ballot.BallotID {
		t.Fatalf("elections sharing an id must get separate ballots")
	}

	if _, err := module.Handler.CastSelectionHandler(ctx, "student-1", ssg.Ballot.BallotID, "ssg-president",
		httptransport.CastSelectionRequest{CandidateIDs: []string{"ssg-b"}}); err != nil {
		t.Fatalf("cast ssg: %v", err)
	}
	if _, err := module.Handler.CastSelectionHandler(ctx, "student-1", ssg.Ballot.BallotID, "cs-governor",
		httptransport.CastSelectionRequest{CandidateIDs: []string{"cs-a"}}); !errors.Is(err, domainerrors.ErrInvalidSelection) {
		t.Fatalf("expected cross-election selection to be rejected, got %v", err)
	}
	if _, err := module.Handler.CastSlateHandler(ctx, "student-1", dept.Ballot.BallotID,
		httptransport.CastSlateRequest{Selections: map[string][]string{"cs-governor": {"cs-a"}}}); err != nil {
		t.Fatalf("cast departmental: %v", err)
	}

	for _, ballotID := range []string{ssg.Ballot.BallotID, dept.Ballot.BallotID} {
		submitted, err := module.Handler.SubmitBallotHandler(ctx, "student-1", ballotID)
		if err != nil {
			t.Fatalf("submit %s: %v", ballotID, err)
		}
		if submitted.State != string(entities.BallotStateSubmitted) || submitted.Replayed {
			t.Fatalf("unexpected submit response: %+v", submitted)
		}
	}

	status, err := module.Handler.BallotStatusHandler(ctx, "student-1", "departmental", "2026")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != string(entities.BallotStateSubmitted) || status.Ballot == nil {
		t.Fatalf("unexpected status: %+v", status)
	}

	tally, err := module.Handler.TallyHandler(ctx, "ssg", "2026")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.SubmittedBallots != 1 || tally.Positions[0].Candidates[0].CandidateID != "ssg-b" || tally.Positions[0].Candidates[0].Votes != 1 {
		t.Fatalf("unexpected ssg tally: %+v", tally)
	}
	verification, err := module.Handler.VerifyTallyHandler(ctx, "departmental", "2026")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verification.Consistent {
		t.Fatalf("expected consistent departmental tally, got %+v", verification)
	}

	publisher := &capturePublisher{}
	relay := module.Relay
	relay.Publisher = publisher
	published, err := relay.RunOnce(ctx)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if published == 0 || published != len(publisher.envelopes) {
		t.Fatalf("expected relay to publish every row, published=%d captured=%d", published, len(publisher.envelopes))
	}
	seen := map[string]bool{}
	for _, envelope := range publisher.envelopes {
		seen[envelope.EventType] = true
	}
	for _, eventType := range []entities.AuditEventType{
		entities.AuditVoterParticipatedInSSG,
		entities.AuditVoterParticipatedInDepartmental,
	} {
		if !seen[string(eventType)] {
			t.Fatalf("expected %s to be published, got %v", eventType, seen)
		}
	}
}

func TestDepartmentalEligibilityAndWindow(t *testing.T) {
	module, clock := newModule(t)
	ctx := context.Background()

	if _, err := module.Handler.StartBallotHandler(ctx, "student-2", "departmental", "2026"); !errors.Is(err, domainerrors.ErrNotEligible) {
		t.Fatalf("expected department mismatch to be ineligible, got %v", err)
	}
	if _, err := module.Handler.StartBallotHandler(ctx, "student-2", "ssg", "2026"); err != nil {
		t.Fatalf("ssg is open to every department: %v", err)
	}
	if _, err := module.Handler.StartBallotHandler(ctx, "student-1", "faculty", "2026"); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected unknown kind to be invalid input, got %v", err)
	}

	clock.Advance(12 * time.Hour)
	if _, err := module.Handler.StartBallotHandler(ctx, "student-1", "ssg", "2026"); !errors.Is(err, domainerrors.ErrElectionNotVotable) {
		t.Fatalf("expected closed window to reject start, got %v", err)
	}
}

func TestReaperReleasesAbandonedSessions(t *testing.T) {
	module, clock := newModule(t)
	ctx := context.Background()

	started, err := module.Handler.StartBallotHandler(ctx, "student-1", "ssg", "2026")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(20 * time.Minute)

	reaped, err := module.Handler.ReapExpiredHandler(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if reaped.ExpiredCount != 1 {
		t.Fatalf("expected one expired ballot, got %+v", reaped)
	}
	status, err := module.Handler.BallotStatusHandler(ctx, "student-1", "ssg", "2026")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != string(entities.BallotStateExpired) {
		t.Fatalf("expected expired status, got %+v", status)
	}

	restarted, err := module.Handler.StartBallotHandler(ctx, "student-1", "ssg", "2026")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.Resumed || restarted.Ballot.BallotID == started.Ballot.BallotID {
		t.Fatalf("expected a new ballot after reap, got %+v", restarted)
	}
}
