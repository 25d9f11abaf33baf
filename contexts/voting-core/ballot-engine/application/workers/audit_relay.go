package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/application/commands"
	"evoting/contexts/voting-core/ballot-engine/ports"
	"evoting/internal/shared/events"
)

const defaultRelayInterval = 2 * time.Second

// AuditRelay publishes persisted audit outbox rows to the event bus.
type AuditRelay struct {
	Outbox    ports.AuditOutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Topic     string
	BatchSize int
	Interval  time.Duration
	Logger    *slog.Logger
}

// RunOnce publishes a bounded batch of pending rows and marks each row
// published only after the broker accepted it. It stops on the first failure
// so the next cycle picks up the remaining rows in order.
func (r AuditRelay) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	topic := r.Topic
	if topic == "" {
		topic = commands.AuditTopic
	}

	pending, err := r.Outbox.ListPendingAudit(ctx, limit)
	if err != nil {
		logger.Error("ballot audit outbox list failed",
			"event", "ballot_audit_outbox_list_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	if len(pending) == 0 {
		logger.Debug("ballot audit relay found no pending rows",
			"event", "ballot_audit_relay_noop",
			"module", application.ModuleName,
			"layer", "worker",
			"batch_size", limit,
		)
		return 0, nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	published := 0
	for _, row := range pending {
		var envelope events.Envelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			logger.Error("ballot audit outbox decode failed",
				"event", "ballot_audit_outbox_decode_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"outbox_id", row.ID,
				"error", err.Error(),
			)
			return published, err
		}
		if err := r.Publisher.Publish(ctx, topic, envelope); err != nil {
			logger.Error("ballot audit publish failed",
				"event", "ballot_audit_publish_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"outbox_id", row.ID,
				"event_id", envelope.EventID,
				"event_type", envelope.EventType,
				"error", err.Error(),
			)
			return published, err
		}
		if err := r.Outbox.MarkAuditPublished(ctx, row.ID, now); err != nil {
			logger.Error("ballot audit mark published failed",
				"event", "ballot_audit_mark_published_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"outbox_id", row.ID,
				"error", err.Error(),
			)
			return published, err
		}
		published++
	}

	logger.Info("ballot audit relay cycle completed",
		"event", "ballot_audit_relay_completed",
		"module", application.ModuleName,
		"layer", "worker",
		"topic", topic,
		"published_count", published,
	)
	return published, nil
}

// Run relays on every interval until ctx is cancelled.
func (r AuditRelay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
