package errors

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput       = errors.New("invalid ballot input")
	ErrElectionNotFound   = errors.New("election not found")
	ErrElectionNotVotable = errors.New("election is not accepting votes")
	ErrNotEligible        = errors.New("voter is not eligible for this election")
	ErrAlreadyVoted       = errors.New("voter already submitted a ballot for this election")
	ErrVoterNotFound      = errors.New("voter not found")

	ErrBallotNotFound   = errors.New("ballot not found")
	ErrBallotNotOpen    = errors.New("ballot is not open")
	ErrBallotNotOwned   = errors.New("ballot belongs to another voter")
	ErrBallotExpired    = errors.New("ballot expired")
	ErrAlreadySubmitted = errors.New("ballot already submitted")

	ErrPositionNotFound  = errors.New("position not found")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrTooManyChoices    = errors.New("too many choices for position")
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrIncompleteBallot  = errors.New("ballot does not satisfy completeness policy")

	ErrConflict               = errors.New("ballot state conflict")
	ErrInvariantViolation     = errors.New("ballot invariant violation")
	ErrTemporarilyUnavailable = errors.New("ballot service temporarily unavailable")
)

// Kind groups failures by how callers must react to them.
type Kind int

const (
	// KindTransient failures are retried at the unit-of-work boundary.
	KindTransient Kind = iota
	// KindPolicy failures are caused by the voter and surfaced verbatim.
	KindPolicy
	// KindRace failures are expected outcomes of concurrent transitions.
	KindRace
	KindNotFound
	// KindInvariant failures indicate a storage state that must never exist.
	KindInvariant
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindPolicy:
		return "policy"
	case KindRace:
		return "race"
	case KindNotFound:
		return "not_found"
	case KindInvariant:
		return "invariant"
	case KindCanceled:
		return "canceled"
	default:
		return "transient"
	}
}

// KindOf classifies err. Errors not produced by this package count as
// transient infrastructure failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	case errors.Is(err, ErrBallotExpired),
		errors.Is(err, ErrAlreadySubmitted):
		return KindRace
	case errors.Is(err, ErrElectionNotFound),
		errors.Is(err, ErrBallotNotFound),
		errors.Is(err, ErrVoterNotFound),
		errors.Is(err, ErrPositionNotFound),
		errors.Is(err, ErrCandidateNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrElectionNotVotable),
		errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrBallotNotOpen),
		errors.Is(err, ErrBallotNotOwned),
		errors.Is(err, ErrTooManyChoices),
		errors.Is(err, ErrInvalidSelection),
		errors.Is(err, ErrIncompleteBallot):
		return KindPolicy
	default:
		return KindTransient
	}
}

// IsRetryable reports whether the unit of work may be attempted again.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
