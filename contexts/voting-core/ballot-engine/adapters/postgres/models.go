package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
)

type electionModel struct {
	Kind            string    `gorm:"column:kind;primaryKey"`
	ID              string    `gorm:"column:id;primaryKey"`
	Title           string    `gorm:"column:title"`
	Status          string    `gorm:"column:status"`
	ElectionDate    time.Time `gorm:"column:election_date"`
	BallotOpenTime  *string   `gorm:"column:ballot_open_time"`
	BallotCloseTime *string   `gorm:"column:ballot_close_time"`
	DepartmentID    string    `gorm:"column:department_id"`
	OfficersOnly    bool      `gorm:"column:officers_only"`
}

func (electionModel) TableName() string {
	return "elections"
}

func electionModelFromEntity(election entities.Election) electionModel {
	row := electionModel{
		Kind:         string(election.Ref.Kind),
		ID:           strings.TrimSpace(election.Ref.ID),
		Title:        strings.TrimSpace(election.Title),
		Status:       string(election.Status),
		ElectionDate: election.ElectionDate.UTC(),
		DepartmentID: strings.TrimSpace(election.DepartmentID),
		OfficersOnly: election.OfficersOnly,
	}
	if election.Window != nil {
		open := election.Window.Open.String()
		closing := election.Window.Close.String()
		row.BallotOpenTime = &open
		row.BallotCloseTime = &closing
	}
	return row
}

func (m electionModel) toEntity() (entities.Election, error) {
	election := entities.Election{
		Ref:          entities.ElectionRef{Kind: entities.ElectionKind(m.Kind), ID: m.ID},
		Title:        m.Title,
		Status:       entities.ElectionStatus(m.Status),
		ElectionDate: m.ElectionDate.UTC(),
		DepartmentID: m.DepartmentID,
		OfficersOnly: m.OfficersOnly,
	}
	if m.BallotOpenTime != nil && m.BallotCloseTime != nil {
		open, err := entities.ParseTimeOfDay(*m.BallotOpenTime)
		if err != nil {
			return entities.Election{}, err
		}
		closing, err := entities.ParseTimeOfDay(*m.BallotCloseTime)
		if err != nil {
			return entities.Election{}, err
		}
		election.Window = &entities.BallotWindow{Open: open, Close: closing}
	}
	return election, nil
}

type voterModel struct {
	ID           string `gorm:"column:id;primaryKey"`
	DepartmentID string `gorm:"column:department_id"`
	Registered   bool   `gorm:"column:registered"`
	Active       bool   `gorm:"column:active"`
	Officer      bool   `gorm:"column:officer"`
}

func (voterModel) TableName() string {
	return "voters"
}

type positionModel struct {
	ID            string `gorm:"column:id;primaryKey"`
	ElectionKind  string `gorm:"column:election_kind;index:idx_positions_election"`
	ElectionID    string `gorm:"column:election_id;index:idx_positions_election"`
	Title         string `gorm:"column:title"`
	MaxVotes      int    `gorm:"column:max_votes"`
	MaxCandidates int    `gorm:"column:max_candidates"`
	Mandatory     bool   `gorm:"column:mandatory"`
	DisplayOrder  int    `gorm:"column:display_order"`
}

func (positionModel) TableName() string {
	return "positions"
}

func (m positionModel) toEntity() entities.Position {
	return entities.Position{
		PositionID:    m.ID,
		Election:      entities.ElectionRef{Kind: entities.ElectionKind(m.ElectionKind), ID: m.ElectionID},
		Title:         m.Title,
		MaxVotes:      m.MaxVotes,
		MaxCandidates: m.MaxCandidates,
		Mandatory:     m.Mandatory,
		DisplayOrder:  m.DisplayOrder,
	}
}

type candidateModel struct {
	ID          string  `gorm:"column:id;primaryKey"`
	PositionID  string  `gorm:"column:position_id;index"`
	PartylistID *string `gorm:"column:partylist_id"`
	Name        string  `gorm:"column:name"`
	VoteCount   int64   `gorm:"column:vote_count;not null;default:0"`
}

func (candidateModel) TableName() string {
	return "candidates"
}

func (m candidateModel) toEntity() entities.Candidate {
	candidate := entities.Candidate{
		CandidateID: m.ID,
		PositionID:  m.PositionID,
		Name:        m.Name,
		VoteCount:   m.VoteCount,
	}
	if m.PartylistID != nil {
		candidate.PartylistID = *m.PartylistID
	}
	return candidate
}

type ballotModel struct {
	ID           string     `gorm:"column:id;primaryKey"`
	VoterID      string     `gorm:"column:voter_id;index:idx_ballots_voter_election"`
	ElectionKind string     `gorm:"column:election_kind;index:idx_ballots_voter_election"`
	ElectionID   string     `gorm:"column:election_id;index:idx_ballots_voter_election"`
	State        string     `gorm:"column:state;index:idx_ballots_state_expires"`
	StartedAt    time.Time  `gorm:"column:started_at"`
	ExpiresAt    time.Time  `gorm:"column:expires_at;index:idx_ballots_state_expires"`
	SubmittedAt  *time.Time `gorm:"column:submitted_at"`
	ClosedAt     *time.Time `gorm:"column:closed_at"`
	Selections   string     `gorm:"column:selections;type:text"`
	Version      int64      `gorm:"column:version"`
}

func (ballotModel) TableName() string {
	return "ballots"
}

func ballotModelFromEntity(ballot entities.Ballot) (ballotModel, error) {
	selections, err := encodeSelections(ballot.Selections)
	if err != nil {
		return ballotModel{}, err
	}
	return ballotModel{
		ID:           ballot.BallotID,
		VoterID:      ballot.VoterID,
		ElectionKind: string(ballot.Election.Kind),
		ElectionID:   ballot.Election.ID,
		State:        string(ballot.State),
		StartedAt:    ballot.StartedAt.UTC(),
		ExpiresAt:    ballot.ExpiresAt.UTC(),
		SubmittedAt:  normalizeOptionalTime(ballot.SubmittedAt),
		ClosedAt:     normalizeOptionalTime(ballot.ClosedAt),
		Selections:   selections,
		Version:      ballot.Version,
	}, nil
}

func (m ballotModel) toEntity() (entities.Ballot, error) {
	selections, err := decodeSelections(m.Selections)
	if err != nil {
		return entities.Ballot{}, err
	}
	return entities.Ballot{
		BallotID:    m.ID,
		VoterID:     m.VoterID,
		Election:    entities.ElectionRef{Kind: entities.ElectionKind(m.ElectionKind), ID: m.ElectionID},
		State:       entities.BallotState(m.State),
		StartedAt:   m.StartedAt.UTC(),
		ExpiresAt:   m.ExpiresAt.UTC(),
		SubmittedAt: normalizeOptionalTime(m.SubmittedAt),
		ClosedAt:    normalizeOptionalTime(m.ClosedAt),
		Selections:  selections,
		Version:     m.Version,
	}, nil
}

// slotModel is keyed by (voter, election); its primary key is what makes two
// concurrent first starts collide.
type slotModel struct {
	VoterID           string    `gorm:"column:voter_id;primaryKey"`
	ElectionKind      string    `gorm:"column:election_kind;primaryKey"`
	ElectionID        string    `gorm:"column:election_id;primaryKey"`
	State             string    `gorm:"column:state"`
	OpenBallotID      *string   `gorm:"column:open_ballot_id"`
	SubmittedBallotID *string   `gorm:"column:submitted_ballot_id"`
	Version           int64     `gorm:"column:version"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (slotModel) TableName() string {
	return "voter_election_slots"
}

func (m slotModel) toEntity() entities.VoterSlot {
	slot := entities.VoterSlot{
		VoterID:   m.VoterID,
		Election:  entities.ElectionRef{Kind: entities.ElectionKind(m.ElectionKind), ID: m.ElectionID},
		State:     entities.SlotState(m.State),
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if m.OpenBallotID != nil {
		slot.OpenBallotID = *m.OpenBallotID
	}
	if m.SubmittedBallotID != nil {
		slot.SubmittedBallotID = *m.SubmittedBallotID
	}
	return slot
}

type voteRecordModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	BallotID     string    `gorm:"column:ballot_id;uniqueIndex:uq_vote_records_selection"`
	ElectionKind string    `gorm:"column:election_kind;index:idx_vote_records_election"`
	ElectionID   string    `gorm:"column:election_id;index:idx_vote_records_election"`
	PositionID   string    `gorm:"column:position_id;uniqueIndex:uq_vote_records_selection"`
	CandidateID  string    `gorm:"column:candidate_id;uniqueIndex:uq_vote_records_selection"`
	CastAt       time.Time `gorm:"column:cast_at"`
}

func (voteRecordModel) TableName() string {
	return "vote_records"
}

func voteRecordModelFromEntity(record entities.VoteRecord) voteRecordModel {
	return voteRecordModel{
		ID:           record.RecordID,
		BallotID:     record.BallotID,
		ElectionKind: string(record.Election.Kind),
		ElectionID:   record.Election.ID,
		PositionID:   record.PositionID,
		CandidateID:  record.CandidateID,
		CastAt:       record.CastAt.UTC(),
	}
}

func (m voteRecordModel) toEntity() entities.VoteRecord {
	return entities.VoteRecord{
		RecordID:    m.ID,
		BallotID:    m.BallotID,
		Election:    entities.ElectionRef{Kind: entities.ElectionKind(m.ElectionKind), ID: m.ElectionID},
		PositionID:  m.PositionID,
		CandidateID: m.CandidateID,
		CastAt:      m.CastAt.UTC(),
	}
}

type auditOutboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (auditOutboxModel) TableName() string {
	return "ballot_audit_outbox"
}

func encodeSelections(selections entities.Selections) (string, error) {
	if len(selections) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(selections)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeSelections(raw string) (entities.Selections, error) {
	selections := entities.Selections{}
	if strings.TrimSpace(raw) == "" {
		return selections, nil
	}
	if err := json.Unmarshal([]byte(raw), &selections); err != nil {
		return nil, err
	}
	return selections, nil
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
