package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evoting/contexts/voting-core/ballot-engine/adapters/memory"
	"evoting/contexts/voting-core/ballot-engine/application/commands"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	"evoting/internal/shared/events"
	"evoting/internal/shared/outbox"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []events.Envelope
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

var ref = entities.ElectionRef{Kind: entities.ElectionKindDepartmental, ID: "cs-2026"}

func TestTimeoutReaperExpiresStaleBallots(t *testing.T) {
	store := memory.NewStore()
	startedAt := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	ballot, err := entities.NewBallot("ballot-1", "voter-1", ref, startedAt, 15*time.Minute)
	if err != nil {
		t.Fatalf("new ballot: %v", err)
	}
	if err := store.OpenBallot(context.Background(), ballot, 0); err != nil {
		t.Fatalf("open: %v", err)
	}

	clock := fixedClock{now: startedAt.Add(16 * time.Minute)}
	reaper := TimeoutReaper{Reap: commands.ReapUseCase{
		Ballots: store,
		Audit:   commands.OutboxAuditSink{Outbox: store, IDGen: store, Clock: clock},
		Clock:   clock,
	}}
	result, err := reaper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if result.ExpiredCount != 1 {
		t.Fatalf("expected one expired ballot, got %+v", result)
	}
	stored, err := store.GetBallot(context.Background(), "ballot-1")
	if err != nil || stored.State != entities.BallotStateExpired {
		t.Fatalf("expected expired ballot, got %+v err=%v", stored, err)
	}
	types := store.AuditTypes()
	if len(types) != 1 || types[0] != string(entities.AuditBallotExpiredDeleted) {
		t.Fatalf("unexpected audit types: %v", types)
	}

	result, err = reaper.RunOnce(context.Background())
	if err != nil || result.ExpiredCount != 0 {
		t.Fatalf("second sweep must be a no-op, got %+v err=%v", result, err)
	}
}

func TestAuditRelayPublishesAndMarksRows(t *testing.T) {
	store := memory.NewStore()
	clock := fixedClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	sink := commands.OutboxAuditSink{Outbox: store, IDGen: store, Clock: clock}
	for _, eventType := range []entities.AuditEventType{entities.AuditBallotStarted, entities.AuditVoteSubmitted} {
		if err := sink.Record(context.Background(), entities.AuditEvent{
			Type:     eventType,
			ActorID:  "voter-1",
			Election: ref,
			BallotID: "ballot-1",
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	publisher := &recordingPublisher{}
	relay := AuditRelay{Outbox: store, Publisher: publisher, Clock: clock}
	published, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if published != 2 || len(publisher.events) != 2 {
		t.Fatalf("expected two published events, got %d", published)
	}
	for i, topic := range publisher.topics {
		if topic != commands.AuditTopic {
			t.Fatalf("unexpected topic %q", topic)
		}
		if publisher.events[i].PartitionKey != ref.Key() {
			t.Fatalf("unexpected partition key %q", publisher.events[i].PartitionKey)
		}
	}
	pending, err := store.ListPendingAudit(context.Background(), 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending rows, got %d err=%v", len(pending), err)
	}
}

func TestAuditRelayKeepsRowsPendingWhenPublishFails(t *testing.T) {
	store := memory.NewStore()
	if err := store.AppendAudit(context.Background(), outbox.Message{
		ID:        "evt-1",
		EventType: string(entities.AuditBallotStarted),
		Payload:   []byte(`{"event_id":"evt-1","event_type":"BALLOT_STARTED"}`),
		CreatedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	publishErr := errors.New("broker unavailable")
	relay := AuditRelay{Outbox: store, Publisher: &recordingPublisher{err: publishErr}}
	if _, err := relay.RunOnce(context.Background()); !errors.Is(err, publishErr) {
		t.Fatalf("expected publish error, got %v", err)
	}
	pending, err := store.ListPendingAudit(context.Background(), 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("row must stay pending, got %d err=%v", len(pending), err)
	}
}

func TestWorkersStopOnCancel(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = TimeoutReaper{Reap: commands.ReapUseCase{Ballots: store}, Interval: 5 * time.Millisecond}.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = AuditRelay{Outbox: store, Publisher: &recordingPublisher{}, Interval: 5 * time.Millisecond}.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()
}
