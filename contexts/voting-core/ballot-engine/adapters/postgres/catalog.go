package postgresadapter

import (
	"context"
	"errors"
	"strings"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/contexts/voting-core/ballot-engine/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) GetElection(ctx context.Context, ref entities.ElectionRef) (entities.Election, error) {
	var row electionModel
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND id = ?", string(ref.Kind), strings.TrimSpace(ref.ID)).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Election{}, domainerrors.ErrElectionNotFound
		}
		return entities.Election{}, r.logError("ballot_repo_get_election_failed", err, "election", ref.Key())
	}
	election, err := row.toEntity()
	if err != nil {
		return entities.Election{}, r.logError("ballot_repo_decode_election_failed", err, "election", ref.Key())
	}
	return election, nil
}

func (r *Repository) IsEligible(ctx context.Context, voterID string, election entities.Election) (entities.Eligibility, error) {
	var row voterModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(voterID)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Eligibility{Eligible: false, Reason: services.ReasonNotRegistered}, nil
		}
		return entities.Eligibility{}, r.logError("ballot_repo_get_voter_failed", err, "voter_id", strings.TrimSpace(voterID))
	}
	return services.EvaluateEligibility(entities.Voter{
		VoterID:      row.ID,
		DepartmentID: row.DepartmentID,
		Registered:   row.Registered,
		Active:       row.Active,
		Officer:      row.Officer,
	}, election), nil
}

func (r *Repository) GetPosition(ctx context.Context, positionID string) (entities.Position, error) {
	var row positionModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(positionID)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Position{}, domainerrors.ErrPositionNotFound
		}
		return entities.Position{}, r.logError("ballot_repo_get_position_failed", err, "position_id", strings.TrimSpace(positionID))
	}
	return row.toEntity(), nil
}

func (r *Repository) GetCandidate(ctx context.Context, candidateID string) (entities.Candidate, error) {
	var row candidateModel
	if err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(candidateID)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Candidate{}, domainerrors.ErrCandidateNotFound
		}
		return entities.Candidate{}, r.logError("ballot_repo_get_candidate_failed", err, "candidate_id", strings.TrimSpace(candidateID))
	}
	return row.toEntity(), nil
}

func (r *Repository) ListPositions(ctx context.Context, ref entities.ElectionRef) ([]entities.Position, error) {
	var rows []positionModel
	if err := r.db.WithContext(ctx).
		Where("election_kind = ? AND election_id = ?", string(ref.Kind), ref.ID).
		Order("display_order ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ballot_repo_list_positions_failed", err, "election", ref.Key())
	}
	items := make([]entities.Position, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListCandidates(ctx context.Context, ref entities.ElectionRef) ([]entities.Candidate, error) {
	var rows []candidateModel
	if err := r.db.WithContext(ctx).
		Table("candidates").
		Select("candidates.*").
		Joins("JOIN positions ON positions.id = candidates.position_id").
		Where("positions.election_kind = ? AND positions.election_id = ?", string(ref.Kind), ref.ID).
		Order("candidates.position_id ASC, candidates.id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ballot_repo_list_candidates_failed", err, "election", ref.Key())
	}
	items := make([]entities.Candidate, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// SaveElection upserts an election. Seeding and admin tooling use it; the
// ballot flow only reads elections.
func (r *Repository) SaveElection(ctx context.Context, election entities.Election) error {
	if !election.Ref.Valid() {
		return domainerrors.ErrInvalidInput
	}
	row := electionModelFromEntity(election)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "status", "election_date", "ballot_open_time", "ballot_close_time", "department_id", "officers_only",
		}),
	}).Create(&row).Error; err != nil {
		return r.logError("ballot_repo_save_election_failed", err, "election", election.Ref.Key())
	}
	return nil
}

func (r *Repository) SaveVoter(ctx context.Context, voter entities.Voter) error {
	row := voterModel{
		ID:           strings.TrimSpace(voter.VoterID),
		DepartmentID: strings.TrimSpace(voter.DepartmentID),
		Registered:   voter.Registered,
		Active:       voter.Active,
		Officer:      voter.Officer,
	}
	if row.ID == "" {
		return domainerrors.ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"department_id", "registered", "active", "officer"}),
	}).Create(&row).Error; err != nil {
		return r.logError("ballot_repo_save_voter_failed", err, "voter_id", row.ID)
	}
	return nil
}

func (r *Repository) SavePosition(ctx context.Context, position entities.Position) error {
	row := positionModel{
		ID:            strings.TrimSpace(position.PositionID),
		ElectionKind:  string(position.Election.Kind),
		ElectionID:    strings.TrimSpace(position.Election.ID),
		Title:         strings.TrimSpace(position.Title),
		MaxVotes:      position.MaxVotes,
		MaxCandidates: position.MaxCandidates,
		Mandatory:     position.Mandatory,
		DisplayOrder:  position.DisplayOrder,
	}
	if row.ID == "" || !position.Election.Valid() || row.MaxVotes < 1 {
		return domainerrors.ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"election_kind", "election_id", "title", "max_votes", "max_candidates", "mandatory", "display_order",
		}),
	}).Create(&row).Error; err != nil {
		return r.logError("ballot_repo_save_position_failed", err, "position_id", row.ID)
	}
	return nil
}

// SaveCandidate upserts a candidate without touching its vote_count.
func (r *Repository) SaveCandidate(ctx context.Context, candidate entities.Candidate) error {
	row := candidateModel{
		ID:          strings.TrimSpace(candidate.CandidateID),
		PositionID:  strings.TrimSpace(candidate.PositionID),
		PartylistID: optionalString(candidate.PartylistID),
		Name:        strings.TrimSpace(candidate.Name),
	}
	if row.ID == "" || row.PositionID == "" {
		return domainerrors.ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"position_id", "partylist_id", "name"}),
	}).Create(&row).Error; err != nil {
		return r.logError("ballot_repo_save_candidate_failed", err, "candidate_id", row.ID)
	}
	return nil
}

var (
	_ ports.ElectionRegistry    = (*Repository)(nil)
	_ ports.EligibilityResolver = (*Repository)(nil)
	_ ports.CandidateCatalog    = (*Repository)(nil)
)
