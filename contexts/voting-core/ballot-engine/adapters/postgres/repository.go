package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the gorm-backed store for ballots, voter slots, the catalog
// and the audit outbox. It runs unchanged on postgres and sqlite.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates every table the repository uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&electionModel{},
		&voterModel{},
		&positionModel{},
		&candidateModel{},
		&ballotModel{},
		&slotModel{},
		&voteRecordModel{},
		&auditOutboxModel{},
	)
}

func (r *Repository) GetBallot(ctx context.Context, ballotID string) (entities.Ballot, error) {
	return r.getBallot(r.db.WithContext(ctx), strings.TrimSpace(ballotID))
}

func (r *Repository) getBallot(tx *gorm.DB, ballotID string) (entities.Ballot, error) {
	var row ballotModel
	if err := tx.Where("id = ?", ballotID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Ballot{}, domainerrors.ErrBallotNotFound
		}
		return entities.Ballot{}, r.logError("ballot_repo_get_ballot_failed", err, "ballot_id", ballotID)
	}
	ballot, err := row.toEntity()
	if err != nil {
		return entities.Ballot{}, r.logError("ballot_repo_decode_ballot_failed", err, "ballot_id", ballotID)
	}
	return ballot, nil
}

func (r *Repository) GetSlot(ctx context.Context, voterID string, ref entities.ElectionRef) (entities.VoterSlot, bool, error) {
	var row slotModel
	err := r.db.WithContext(ctx).
		Where("voter_id = ? AND election_kind = ? AND election_id = ?", strings.TrimSpace(voterID), string(ref.Kind), ref.ID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.VoterSlot{}, false, nil
		}
		return entities.VoterSlot{}, false, r.logError("ballot_repo_get_slot_failed", err,
			"voter_id", strings.TrimSpace(voterID),
			"election", ref.Key(),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) LatestBallot(ctx context.Context, voterID string, ref entities.ElectionRef) (entities.Ballot, bool, error) {
	var row ballotModel
	err := r.db.WithContext(ctx).
		Where("voter_id = ? AND election_kind = ? AND election_id = ?", strings.TrimSpace(voterID), string(ref.Kind), ref.ID).
		Order("started_at DESC").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Ballot{}, false, nil
		}
		return entities.Ballot{}, false, r.logError("ballot_repo_latest_ballot_failed", err,
			"voter_id", strings.TrimSpace(voterID),
			"election", ref.Key(),
		)
	}
	ballot, err := row.toEntity()
	if err != nil {
		return entities.Ballot{}, false, err
	}
	return ballot, true, nil
}

func (r *Repository) ListOpenBallots(ctx context.Context, voterID string, ref entities.ElectionRef) ([]entities.Ballot, error) {
	var rows []ballotModel
	if err := r.db.WithContext(ctx).
		Where("voter_id = ? AND election_kind = ? AND election_id = ? AND state = ?",
			strings.TrimSpace(voterID), string(ref.Kind), ref.ID, string(entities.BallotStateOpen)).
		Order("started_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ballot_repo_list_open_failed", err,
			"voter_id", strings.TrimSpace(voterID),
			"election", ref.Key(),
		)
	}
	return toBallotEntities(rows)
}

// OpenBallot claims the voter slot and inserts the ballot in one transaction.
// A first-ever start inserts the slot with ON CONFLICT DO NOTHING; later
// starts flip an idle slot guarded by its version.
func (r *Repository) OpenBallot(ctx context.Context, ballot entities.Ballot, expectedSlotVersion int64) error {
	row, err := ballotModelFromEntity(ballot)
	if err != nil {
		return err
	}
	ballotID := row.ID
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if expectedSlotVersion == 0 {
			slot := slotModel{
				VoterID:      row.VoterID,
				ElectionKind: row.ElectionKind,
				ElectionID:   row.ElectionID,
				State:        string(entities.SlotStateOpen),
				OpenBallotID: &ballotID,
				Version:      1,
				UpdatedAt:    row.StartedAt,
			}
			create := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "voter_id"},
					{Name: "election_kind"},
					{Name: "election_id"},
				},
				DoNothing: true,
			}).Create(&slot)
			if create.Error != nil {
				return create.Error
			}
			if create.RowsAffected == 0 {
				return domainerrors.ErrConflict
			}
		} else {
			update := tx.Model(&slotModel{}).
				Where("voter_id = ? AND election_kind = ? AND election_id = ?", row.VoterID, row.ElectionKind, row.ElectionID).
				Where("state = ? AND version = ?", string(entities.SlotStateIdle), expectedSlotVersion).
				Updates(map[string]any{
					"state":          string(entities.SlotStateOpen),
					"open_ballot_id": ballotID,
					"version":        gorm.Expr("version + 1"),
					"updated_at":     row.StartedAt,
				})
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				return domainerrors.ErrConflict
			}
		}
		return tx.Create(&row).Error
	})
	return r.mapWriteError("ballot_repo_open_ballot_failed", err, "ballot_id", ballotID, "voter_id", row.VoterID)
}

func (r *Repository) ReplaceSelections(
	ctx context.Context,
	ballotID string,
	expectedVersion int64,
	selections entities.Selections,
	now time.Time,
) (entities.Ballot, error) {
	encoded, err := encodeSelections(selections)
	if err != nil {
		return entities.Ballot{}, err
	}
	ballotID = strings.TrimSpace(ballotID)
	var saved entities.Ballot
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&ballotModel{}).
			Where("id = ? AND state = ? AND version = ? AND expires_at >= ?",
				ballotID, string(entities.BallotStateOpen), expectedVersion, now.UTC()).
			Updates(map[string]any{
				"selections": encoded,
				"version":    gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return r.missingOrConflict(tx, ballotID)
		}
		saved, err = r.getBallot(tx, ballotID)
		return err
	})
	if err != nil {
		return entities.Ballot{}, r.mapWriteError("ballot_repo_replace_selections_failed", err, "ballot_id", ballotID)
	}
	return saved, nil
}

// SubmitBallot flips the ballot and its slot, increments every counter with
// an in-database add and inserts the vote records. Any zero-row update rolls
// the whole transaction back.
func (r *Repository) SubmitBallot(ctx context.Context, req ports.SubmitRequest) (entities.Ballot, error) {
	ballotID := strings.TrimSpace(req.BallotID)
	submittedAt := req.SubmittedAt.UTC()
	var saved entities.Ballot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&ballotModel{}).
			Where("id = ? AND state = ? AND version = ? AND expires_at >= ?",
				ballotID, string(entities.BallotStateOpen), req.ExpectedVersion, submittedAt).
			Updates(map[string]any{
				"state":        string(entities.BallotStateSubmitted),
				"submitted_at": submittedAt,
				"version":      gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return r.missingOrConflict(tx, ballotID)
		}

		ballot, err := r.getBallot(tx, ballotID)
		if err != nil {
			return err
		}
		slot := tx.Model(&slotModel{}).
			Where("voter_id = ? AND election_kind = ? AND election_id = ?",
				ballot.VoterID, string(ballot.Election.Kind), ballot.Election.ID).
			Where("state = ? AND open_ballot_id = ?", string(entities.SlotStateOpen), ballotID).
			Updates(map[string]any{
				"state":               string(entities.SlotStateVoted),
				"open_ballot_id":      nil,
				"submitted_ballot_id": ballotID,
				"version":             gorm.Expr("version + 1"),
				"updated_at":          submittedAt,
			})
		if slot.Error != nil {
			return slot.Error
		}
		if slot.RowsAffected == 0 {
			return domainerrors.ErrInvariantViolation
		}

		if err := r.checkPositions(tx, ballot.Election, req.Increments); err != nil {
			return err
		}
		for _, increment := range req.Increments {
			applied := tx.Model(&candidateModel{}).
				Where("id = ? AND position_id = ?", increment.CandidateID, increment.PositionID).
				UpdateColumn("vote_count", gorm.Expr("vote_count + ?", 1))
			if applied.Error != nil {
				return applied.Error
			}
			if applied.RowsAffected == 0 {
				return domainerrors.ErrInvalidSelection
			}
		}

		if len(req.Records) > 0 {
			rows := make([]voteRecordModel, 0, len(req.Records))
			for _, record := range req.Records {
				rows = append(rows, voteRecordModelFromEntity(record))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		saved, err = r.getBallot(tx, ballotID)
		return err
	})
	if err != nil {
		return entities.Ballot{}, r.mapWriteError("ballot_repo_submit_failed", err, "ballot_id", ballotID)
	}
	return saved, nil
}

// checkPositions verifies every incremented position still belongs to the
// ballot's election.
func (r *Repository) checkPositions(tx *gorm.DB, ref entities.ElectionRef, increments []entities.TallyIncrement) error {
	if len(increments) == 0 {
		return nil
	}
	unique := make(map[string]struct{}, len(increments))
	ids := make([]string, 0, len(increments))
	for _, increment := range increments {
		if _, seen := unique[increment.PositionID]; seen {
			continue
		}
		unique[increment.PositionID] = struct{}{}
		ids = append(ids, increment.PositionID)
	}
	var count int64
	if err := tx.Model(&positionModel{}).
		Where("id IN ? AND election_kind = ? AND election_id = ?", ids, string(ref.Kind), ref.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count != int64(len(ids)) {
		return domainerrors.ErrInvalidSelection
	}
	return nil
}

func (r *Repository) CloseBallot(ctx context.Context, req ports.CloseRequest) (entities.Ballot, error) {
	if req.To != entities.BallotStateAbandoned && req.To != entities.BallotStateExpired {
		return entities.Ballot{}, domainerrors.ErrInvalidInput
	}
	ballotID := strings.TrimSpace(req.BallotID)
	closedAt := req.ClosedAt.UTC()
	var saved entities.Ballot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&ballotModel{}).
			Where("id = ? AND state = ? AND version = ?", ballotID, string(entities.BallotStateOpen), req.ExpectedVersion).
			Updates(map[string]any{
				"state":      string(req.To),
				"closed_at":  closedAt,
				"selections": "{}",
				"version":    gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return r.missingOrConflict(tx, ballotID)
		}
		ballot, err := r.getBallot(tx, ballotID)
		if err != nil {
			return err
		}
		// Releases the slot only when it still points at this ballot.
		if err := tx.Model(&slotModel{}).
			Where("voter_id = ? AND election_kind = ? AND election_id = ?",
				ballot.VoterID, string(ballot.Election.Kind), ballot.Election.ID).
			Where("state = ? AND open_ballot_id = ?", string(entities.SlotStateOpen), ballotID).
			Updates(map[string]any{
				"state":          string(entities.SlotStateIdle),
				"open_ballot_id": nil,
				"version":        gorm.Expr("version + 1"),
				"updated_at":     closedAt,
			}).Error; err != nil {
			return err
		}
		saved = ballot
		return nil
	})
	if err != nil {
		return entities.Ballot{}, r.mapWriteError("ballot_repo_close_failed", err,
			"ballot_id", ballotID,
			"to", string(req.To),
		)
	}
	return saved, nil
}

func (r *Repository) ListExpiredOpenBallots(ctx context.Context, now time.Time, limit int) ([]entities.Ballot, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []ballotModel
	if err := r.db.WithContext(ctx).
		Where("state = ? AND expires_at < ?", string(entities.BallotStateOpen), now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("ballot_repo_list_expired_failed", err, "limit", limit)
	}
	return toBallotEntities(rows)
}

func (r *Repository) CountSubmittedBallots(ctx context.Context, ref entities.ElectionRef) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ballotModel{}).
		Where("election_kind = ? AND election_id = ? AND state = ?", string(ref.Kind), ref.ID, string(entities.BallotStateSubmitted)).
		Count(&count).Error; err != nil {
		return 0, r.logError("ballot_repo_count_submitted_failed", err, "election", ref.Key())
	}
	return count, nil
}

func (r *Repository) ListVoteRecords(ctx context.Context, ref entities.ElectionRef) ([]entities.VoteRecord, error) {
	var rows []voteRecordModel
	if err := r.db.WithContext(ctx).
		Where("election_kind = ? AND election_id = ?", string(ref.Kind), ref.ID).
		Order("cast_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ballot_repo_list_vote_records_failed", err, "election", ref.Key())
	}
	items := make([]entities.VoteRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) missingOrConflict(tx *gorm.DB, ballotID string) error {
	var count int64
	if err := tx.Model(&ballotModel{}).Where("id = ?", ballotID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domainerrors.ErrBallotNotFound
	}
	return domainerrors.ErrConflict
}

// mapWriteError passes domain errors through, turns unique and serialization
// failures into ErrConflict, and logs anything else.
func (r *Repository) mapWriteError(event string, err error, attrs ...any) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case isUniqueViolation(err), isSerializationFailure(err):
		return domainerrors.ErrConflict
	default:
		return r.logError(event, err, attrs...)
	}
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.ModuleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("ballot repository operation failed", fields...)
	return err
}

func toBallotEntities(rows []ballotModel) ([]entities.Ballot, error) {
	items := make([]entities.Ballot, 0, len(rows))
	for _, row := range rows {
		ballot, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, ballot)
	}
	return items, nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domainerrors.ErrConflict,
		domainerrors.ErrBallotNotFound,
		domainerrors.ErrInvalidSelection,
		domainerrors.ErrInvalidInput,
		domainerrors.ErrInvariantViolation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

var _ ports.BallotRepository = (*Repository)(nil)
