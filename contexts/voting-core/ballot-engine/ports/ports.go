package ports

import (
	"context"
	"time"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	"evoting/internal/shared/events"
	"evoting/internal/shared/outbox"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// ElectionRegistry resolves elections by kind and id.
type ElectionRegistry interface {
	GetElection(ctx context.Context, ref entities.ElectionRef) (entities.Election, error)
}

// EligibilityResolver decides whether a voter may take part in an election.
type EligibilityResolver interface {
	IsEligible(ctx context.Context, voterID string, election entities.Election) (entities.Eligibility, error)
}

// CandidateCatalog serves positions and candidates.
type CandidateCatalog interface {
	GetPosition(ctx context.Context, positionID string) (entities.Position, error)
	GetCandidate(ctx context.Context, candidateID string) (entities.Candidate, error)
	ListPositions(ctx context.Context, ref entities.ElectionRef) ([]entities.Position, error)
	ListCandidates(ctx context.Context, ref entities.ElectionRef) ([]entities.Candidate, error)
}

// SubmitRequest is applied as one unit of work: ballot open->submitted, slot
// open->voted, every counter incremented and every record inserted, or none.
type SubmitRequest struct {
	BallotID        string
	ExpectedVersion int64
	SubmittedAt     time.Time
	Increments      []entities.TallyIncrement
	Records         []entities.VoteRecord
}

// CloseRequest moves an open ballot to abandoned or expired and releases the
// voter slot when it still references the ballot.
type CloseRequest struct {
	BallotID        string
	To              entities.BallotState
	ExpectedVersion int64
	ClosedAt        time.Time
}

// BallotRepository persists ballots and voter slots. Every mutation is a
// conditional write; a lost race returns domain ErrConflict and leaves no
// partial state behind.
type BallotRepository interface {
	GetBallot(ctx context.Context, ballotID string) (entities.Ballot, error)
	GetSlot(ctx context.Context, voterID string, ref entities.ElectionRef) (entities.VoterSlot, bool, error)
	LatestBallot(ctx context.Context, voterID string, ref entities.ElectionRef) (entities.Ballot, bool, error)
	ListOpenBallots(ctx context.Context, voterID string, ref entities.ElectionRef) ([]entities.Ballot, error)
	OpenBallot(ctx context.Context, ballot entities.Ballot, expectedSlotVersion int64) error
	ReplaceSelections(ctx context.Context, ballotID string, expectedVersion int64, selections entities.Selections, now time.Time) (entities.Ballot, error)
	SubmitBallot(ctx context.Context, req SubmitRequest) (entities.Ballot, error)
	CloseBallot(ctx context.Context, req CloseRequest) (entities.Ballot, error)
	ListExpiredOpenBallots(ctx context.Context, now time.Time, limit int) ([]entities.Ballot, error)
	CountSubmittedBallots(ctx context.Context, ref entities.ElectionRef) (int64, error)
	ListVoteRecords(ctx context.Context, ref entities.ElectionRef) ([]entities.VoteRecord, error)
}

// AuditSink records lifecycle events. Callers never fail a voting operation
// because Record failed.
type AuditSink interface {
	Record(ctx context.Context, event entities.AuditEvent) error
}

// AuditOutboxWriter persists pending audit messages.
type AuditOutboxWriter interface {
	AppendAudit(ctx context.Context, message outbox.Message) error
}

// AuditOutboxRepository is the relay's view of the audit outbox.
type AuditOutboxRepository interface {
	ListPendingAudit(ctx context.Context, limit int) ([]outbox.Message, error)
	MarkAuditPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event events.Envelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, events.Envelope) error,
	) error
}
