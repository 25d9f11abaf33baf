package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evoting/internal/shared/events"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (c *collector) handle(_ context.Context, event events.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestBrokerDeliversOncePerGroup(t *testing.T) {
	broker, err := NewBroker([]string{"localhost:9092"}, nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	defer func() { _ = broker.Close() }()
	ctx := context.Background()

	auditA, auditB, reporting := &collector{}, &collector{}, &collector{}
	for _, sub := range []struct {
		group string
		c     *collector
	}{{"audit", auditA}, {"audit", auditB}, {"reporting", reporting}} {
		if err := broker.Subscribe(ctx, "ballot.audit", sub.group, sub.c.handle); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	for i := 0; i < 10; i++ {
		if err := broker.Publish(ctx, "ballot.audit", events.Envelope{
			EventID:      string(rune('a' + i)),
			EventType:    "VOTE_SUBMITTED",
			PartitionKey: "ssg:2026",
		}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, func() bool { return reporting.count() == 10 && auditA.count()+auditB.count() == 10 })
	if auditA.count() != 0 && auditB.count() != 0 {
		t.Fatalf("one partition key must stick to one group member, got %d and %d", auditA.count(), auditB.count())
	}
	for i, event := range reporting.events {
		if event.EventID != string(rune('a'+i)) {
			t.Fatalf("events out of order at %d: %s", i, event.EventID)
		}
	}
}

func TestBrokerSubscriberStopsOnCancel(t *testing.T) {
	broker, err := NewBroker(nil, nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := broker.Subscribe(ctx, "ballot.audit", "audit", (&collector{}).handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	waitFor(t, func() bool {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.groups["ballot.audit"]) == 0
	})
	if err := broker.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBrokerRejectsAfterClose(t *testing.T) {
	broker, err := NewBroker(nil, nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if err := broker.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := broker.Publish(context.Background(), "ballot.audit", events.Envelope{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := broker.Subscribe(context.Background(), "ballot.audit", "audit", (&collector{}).handle); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}
