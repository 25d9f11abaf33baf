package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	"evoting/contexts/voting-core/ballot-engine/ports"
	"evoting/internal/shared/events"
	"evoting/internal/shared/outbox"
)

const (
	AuditSourceService = "ballot-engine"
	AuditTopic         = "ballot.audit"
)

// OutboxAuditSink stores audit events as pending outbox rows; the audit relay
// publishes them later.
type OutboxAuditSink struct {
	Outbox ports.AuditOutboxWriter
	IDGen  ports.IDGenerator
	Clock  ports.Clock
}

// Record writes the event to the audit outbox as a pending message.
func (s OutboxAuditSink) Record(ctx context.Context, event entities.AuditEvent) error {
	if event.EventID == "" {
		eventID, err := s.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		event.EventID = eventID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
		if s.Clock != nil {
			event.OccurredAt = s.Clock.Now().UTC()
		}
	}
	envelope, err := NewAuditEnvelope(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.Outbox.AppendAudit(ctx, outbox.Message{
		ID:           event.EventID,
		EventType:    string(event.Type),
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       outbox.StatusPending,
		CreatedAt:    event.OccurredAt.UTC(),
	})
}

// NewAuditEnvelope partitions audit events by election so per-election
// consumers observe lifecycle events in order.
func NewAuditEnvelope(event entities.AuditEvent) (events.Envelope, error) {
	data := map[string]any{
		"actor_id":      event.ActorID,
		"election_kind": string(event.Election.Kind),
		"election_id":   event.Election.ID,
		"ballot_id":     event.BallotID,
		"occurred_at":   event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Details) > 0 {
		data["details"] = event.Details
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return events.Envelope{}, err
	}
	return events.Envelope{
		EventID:          event.EventID,
		EventType:        string(event.Type),
		OccurredAt:       event.OccurredAt.UTC(),
		SourceService:    AuditSourceService,
		TraceID:          event.EventID,
		SchemaVersion:    1,
		PartitionKeyPath: "election",
		PartitionKey:     event.Election.Key(),
		Data:             payload,
	}, nil
}

// recordAudit is fire-and-forget: a failed record is logged and counted but
// never changes the outcome of the voting operation.
func recordAudit(
	ctx context.Context,
	sink ports.AuditSink,
	metrics *application.Metrics,
	logger *slog.Logger,
	event entities.AuditEvent,
) {
	if sink == nil {
		return
	}
	if err := sink.Record(context.WithoutCancel(ctx), event); err != nil {
		metrics.AuditFailed()
		logger.Error("audit record failed",
			"event", "ballot_audit_record_failed",
			"module", application.ModuleName,
			"layer", "application",
			"audit_type", string(event.Type),
			"ballot_id", event.BallotID,
			"error", err.Error(),
		)
	}
}

func expiredEvent(ballot entities.Ballot, path string) entities.AuditEvent {
	occurredAt := ballot.ExpiresAt
	if ballot.ClosedAt != nil {
		occurredAt = *ballot.ClosedAt
	}
	return entities.AuditEvent{
		Type:     entities.AuditBallotExpiredDeleted,
		ActorID:  ballot.VoterID,
		Election: ballot.Election,
		BallotID: ballot.BallotID,
		Details: map[string]any{
			"path":       path,
			"expires_at": ballot.ExpiresAt,
		},
		OccurredAt: occurredAt,
	}
}
