package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

const (
	DefaultBallotTTL = 15 * time.Minute

	// maxTransitionSteps bounds the re-read loop inside one attempt; a step is
	// consumed by every lost conditional write or lazily expired ballot.
	maxTransitionSteps = 4
)

// BallotUseCase owns the voter-facing ballot lifecycle: start, cast, submit
// and abandon. Every transition is a conditional write in the repository and
// is retried on conflict through Retry.
type BallotUseCase struct {
	Elections    ports.ElectionRegistry
	Eligibility  ports.EligibilityResolver
	Catalog      ports.CandidateCatalog
	Ballots      ports.BallotRepository
	Audit        ports.AuditSink
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	BallotTTL    time.Duration
	Completeness services.CompletenessPolicy
	Location     *time.Location
	Retry        application.RetryPolicy
	Metrics      *application.Metrics
	Logger       *slog.Logger
}

func (uc BallotUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func (uc BallotUseCase) ttl() time.Duration {
	if uc.BallotTTL <= 0 {
		return DefaultBallotTTL
	}
	return uc.BallotTTL
}

func (uc BallotUseCase) location() *time.Location {
	if uc.Location == nil {
		return time.UTC
	}
	return uc.Location
}

func (uc BallotUseCase) retry() application.RetryPolicy {
	if uc.Retry.MaxAttempts <= 0 {
		return application.DefaultRetryPolicy()
	}
	return uc.Retry
}

func (uc BallotUseCase) loadCatalog(ctx context.Context, ref entities.ElectionRef) (services.Catalog, error) {
	positions, err := uc.Catalog.ListPositions(ctx, ref)
	if err != nil {
		return services.Catalog{}, err
	}
	candidates, err := uc.Catalog.ListCandidates(ctx, ref)
	if err != nil {
		return services.Catalog{}, err
	}
	return services.NewCatalog(ref, positions, candidates), nil
}

// loadOwnedBallot reads a ballot and enforces ownership.
func (uc BallotUseCase) loadOwnedBallot(ctx context.Context, ballotID string, voterID string) (entities.Ballot, error) {
	ballot, err := uc.Ballots.GetBallot(ctx, ballotID)
	if err != nil {
		return entities.Ballot{}, err
	}
	if !ballot.OwnedBy(voterID) {
		return entities.Ballot{}, domainerrors.ErrBallotNotOwned
	}
	return ballot, nil
}

// expireLazily persists the expiry of an open ballot found past its deadline.
func (uc BallotUseCase) expireLazily(ctx context.Context, ballot entities.Ballot, now time.Time) (entities.Ballot, error) {
	return uc.Ballots.CloseBallot(ctx, ports.CloseRequest{
		BallotID:        ballot.BallotID,
		To:              entities.BallotStateExpired,
		ExpectedVersion: ballot.Version,
		ClosedAt:        now,
	})
}

func (uc BallotUseCase) reject(logger *slog.Logger, operation string, err error, attrs ...any) error {
	kind := domainerrors.KindOf(err)
	uc.Metrics.Rejected(operation, kind.String())
	fields := make([]any, 0, len(attrs)+10)
	fields = append(fields,
		"event", "ballot_"+operation+"_rejected",
		"module", application.ModuleName,
		"layer", "application",
		"kind", kind.String(),
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	switch kind {
	case domainerrors.KindInvariant, domainerrors.KindTransient:
		logger.Error("ballot operation failed", fields...)
	default:
		logger.Warn("ballot operation rejected", fields...)
	}
	return err
}

// stateError maps a non-open ballot state to the error callers see.
func stateError(state entities.BallotState) error {
	if state == entities.BallotStateExpired {
		return domainerrors.ErrBallotExpired
	}
	return domainerrors.ErrBallotNotOpen
}

func isConflict(err error) bool {
	return errors.Is(err, domainerrors.ErrConflict)
}

func invariantError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domainerrors.ErrInvariantViolation}, args...)...)
}
