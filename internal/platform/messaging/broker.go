package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"evoting/internal/shared/events"
)

const subscriberBuffer = 128

var ErrClosed = errors.New("broker closed")

type subscriber struct {
	ch chan events.Envelope
}

// Broker is the event bus used by the audit relay. Delivery is in-process:
// every consumer group sees each event once, and events with the same
// partition key reach the same group member in publish order.
type Broker struct {
	mu      sync.RWMutex
	brokers []string
	groups  map[string]map[string][]*subscriber
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewBroker returns an in-process broker. brokers is not dialed; delivery
// stays inside the process.
func NewBroker(brokers []string, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		brokers: append([]string(nil), brokers...),
		groups:  make(map[string]map[string][]*subscriber),
		done:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Publish blocks until every consumer group has accepted the event or ctx is
// done.
func (b *Broker) Publish(ctx context.Context, topic string, event events.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*subscriber, 0, len(b.groups[topic]))
	for _, members := range b.groups[topic] {
		if len(members) == 0 {
			continue
		}
		targets = append(targets, members[partition(event.PartitionKey, len(members))])
	}
	b.mu.RUnlock()

	for _, target := range targets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		case target.ch <- event:
		}
	}

	b.logger.Debug("event published",
		"event", "broker_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
		"groups", len(targets),
	)
	return nil
}

// Subscribe joins consumerGroup on topic. handler runs on a dedicated
// goroutine until ctx is done or the broker is closed.
func (b *Broker) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, events.Envelope) error,
) error {
	sub := &subscriber{ch: make(chan events.Envelope, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.groups[topic] == nil {
		b.groups[topic] = make(map[string][]*subscriber)
	}
	b.groups[topic][consumerGroup] = append(b.groups[topic][consumerGroup], sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer b.removeSubscriber(topic, consumerGroup, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case event := <-sub.ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "broker_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// Close stops every subscriber and waits for their goroutines to exit.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Broker) removeSubscriber(topic string, consumerGroup string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.groups[topic][consumerGroup]
	if len(members) == 0 {
		return
	}
	filtered := make([]*subscriber, 0, len(members))
	for _, member := range members {
		if member != target {
			filtered = append(filtered, member)
		}
	}
	if len(filtered) == 0 {
		delete(b.groups[topic], consumerGroup)
		return
	}
	b.groups[topic][consumerGroup] = filtered
}

func partition(key string, members int) int {
	if members <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(members))
}
