package entities

import "time"

// AuditEventType names an entry in the ballot audit trail.
type AuditEventType string

const (
	AuditBallotStarted                   AuditEventType = "BALLOT_STARTED"
	AuditBallotResumed                   AuditEventType = "BALLOT_RESUMED"
	AuditSelectionCast                   AuditEventType = "SELECTION_CAST"
	AuditVoteSubmitted                   AuditEventType = "VOTE_SUBMITTED"
	AuditVoterParticipatedInSSG          AuditEventType = "VOTER_PARTICIPATED_IN_SSG"
	AuditVoterParticipatedInDepartmental AuditEventType = "VOTER_PARTICIPATED_IN_DEPARTMENTAL"
	AuditBallotAbandoned                 AuditEventType = "BALLOT_ABANDONED"
	AuditBallotExpiredDeleted            AuditEventType = "BALLOT_EXPIRED_DELETED"
	AuditBallotInvariantRepaired         AuditEventType = "BALLOT_INVARIANT_REPAIRED"
)

// ParticipationEventType returns the participation marker for the kind.
func ParticipationEventType(kind ElectionKind) AuditEventType {
	if kind == ElectionKindDepartmental {
		return AuditVoterParticipatedInDepartmental
	}
	return AuditVoterParticipatedInSSG
}

// AuditEvent is handed to the audit sink after a ballot operation.
type AuditEvent struct {
	EventID    string
	Type       AuditEventType
	ActorID    string
	Election   ElectionRef
	BallotID   string
	Details    map[string]any
	OccurredAt time.Time
}
