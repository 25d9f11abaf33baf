package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BallotResponse struct {
	BallotID     string              `json:"ballot_id"`
	VoterID      string              `json:"voter_id"`
	ElectionKind string              `json:"election_kind"`
	ElectionID   string              `json:"election_id"`
	State        string              `json:"state"`
	StartedAt    time.Time           `json:"started_at"`
	ExpiresAt    time.Time           `json:"expires_at"`
	SubmittedAt  *time.Time          `json:"submitted_at,omitempty"`
	Selections   map[string][]string `json:"selections"`
	Version      int64               `json:"version"`
}

type StartBallotResponse struct {
	Ballot  BallotResponse `json:"ballot"`
	Resumed bool           `json:"resumed"`
}

type BallotStatusResponse struct {
	State       string          `json:"state"`
	Ballot      *BallotResponse `json:"ballot,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
}

type CastSelectionRequest struct {
	CandidateIDs []string `json:"candidate_ids"`
}

type CastSlateRequest struct {
	Selections map[string][]string `json:"selections"`
}

type SubmitBallotResponse struct {
	BallotID    string    `json:"ballot_id"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	Replayed    bool      `json:"replayed"`
}

type CandidateTallyItem struct {
	CandidateID string `json:"candidate_id"`
	PartylistID string `json:"partylist_id,omitempty"`
	Name        string `json:"name"`
	Votes       int64  `json:"votes"`
}

type PositionTallyItem struct {
	PositionID string               `json:"position_id"`
	Title      string               `json:"title"`
	MaxVotes   int                  `json:"max_votes"`
	TotalVotes int64                `json:"total_votes"`
	Candidates []CandidateTallyItem `json:"candidates"`
}

type TallyResponse struct {
	ElectionKind     string              `json:"election_kind"`
	ElectionID       string              `json:"election_id"`
	SubmittedBallots int64               `json:"submitted_ballots"`
	Positions        []PositionTallyItem `json:"positions"`
}

type TallyMismatchItem struct {
	PositionID  string `json:"position_id"`
	CandidateID string `json:"candidate_id"`
	Counter     int64  `json:"counter"`
	Records     int64  `json:"records"`
}

type TallyVerificationResponse struct {
	ElectionKind string              `json:"election_kind"`
	ElectionID   string              `json:"election_id"`
	Consistent   bool                `json:"consistent"`
	Mismatches   []TallyMismatchItem `json:"mismatches"`
}

type ReapResponse struct {
	ExpiredCount int `json:"expired_count"`
	SkippedCount int `json:"skipped_count"`
}
