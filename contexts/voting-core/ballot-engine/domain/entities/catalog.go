package entities

// Position is an office on an election ballot. MaxVotes bounds one voter's
// choices; MaxCandidates bounds the catalog.
type Position struct {
	PositionID    string
	Election      ElectionRef
	Title         string
	MaxVotes      int
	MaxCandidates int
	Mandatory     bool
	DisplayOrder  int
}

// Candidate runs for exactly one position. VoteCount is the running tally.
type Candidate struct {
	CandidateID string
	PositionID  string
	PartylistID string
	Name        string
	VoteCount   int64
}

// Voter is the read projection the eligibility rules need.
type Voter struct {
	VoterID      string
	DepartmentID string
	Registered   bool
	Active       bool
	Officer      bool
}

// Eligibility carries the decision and, when refused, the reason code.
type Eligibility struct {
	Eligible bool
	Reason   string
}
