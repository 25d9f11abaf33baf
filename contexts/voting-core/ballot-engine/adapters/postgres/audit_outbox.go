package postgresadapter

import (
	"bytes"
	"context"
	"strings"
	"time"

	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/ports"
	"evoting/internal/shared/outbox"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// AppendAudit is idempotent on the outbox id: re-appending the same payload
// is a no-op, a different payload under the same id is a conflict.
func (r *Repository) AppendAudit(ctx context.Context, message outbox.Message) error {
	row := auditOutboxModel{
		OutboxID:     strings.TrimSpace(message.ID),
		EventType:    strings.TrimSpace(message.EventType),
		PartitionKey: strings.TrimSpace(message.PartitionKey),
		Payload:      append([]byte(nil), message.Payload...),
		Status:       outbox.StatusPending,
		CreatedAt:    message.CreatedAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("ballot_repo_append_audit_failed", create.Error, "outbox_id", row.OutboxID)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing auditOutboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("ballot_repo_append_audit_load_existing_failed", err, "outbox_id", row.OutboxID)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingAudit(ctx context.Context, limit int) ([]outbox.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditOutboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("ballot_repo_list_pending_audit_failed", err, "limit", limit)
	}
	items := make([]outbox.Message, 0, len(rows))
	for _, row := range rows {
		items = append(items, outbox.Message{
			ID:           row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			Status:       row.Status,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkAuditPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&auditOutboxModel{}).
		Where("outbox_id = ? AND status = ?", strings.TrimSpace(outboxID), outbox.StatusPending).
		Updates(map[string]any{
			"status":       outbox.StatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("ballot_repo_mark_audit_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

var (
	_ ports.AuditOutboxWriter     = (*Repository)(nil)
	_ ports.AuditOutboxRepository = (*Repository)(nil)
)
