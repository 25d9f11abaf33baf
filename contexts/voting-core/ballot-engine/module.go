package ballotengine

import (
	"log/slog"
	"time"

	httpadapter "evoting/contexts/voting-core/ballot-engine/adapters/http"
	"evoting/contexts/voting-core/ballot-engine/adapters/memory"
	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/application/commands"
	"evoting/contexts/voting-core/ballot-engine/application/queries"
	"evoting/contexts/voting-core/ballot-engine/application/workers"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

// Module exposes the ballot engine's HTTP handler and background workers.
// Store is set only for in-memory modules.
type Module struct {
	Handler httpadapter.Handler
	Reaper  workers.TimeoutReaper
	Relay   workers.AuditRelay
	Store   *memory.Store
}

// Dependencies are the adapters and settings NewModule wires together.
type Dependencies struct {
	Elections    ports.ElectionRegistry
	Eligibility  ports.EligibilityResolver
	Catalog      ports.CandidateCatalog
	Ballots      ports.BallotRepository
	AuditOutbox  ports.AuditOutboxWriter
	AuditRelay   ports.AuditOutboxRepository
	Publisher    ports.EventPublisher
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	BallotTTL    time.Duration
	Completeness services.CompletenessPolicy
	Location     *time.Location
	Retry        application.RetryPolicy
	Metrics      *application.Metrics

	ReapInterval   time.Duration
	ReapBatchSize  int
	RelayInterval  time.Duration
	RelayBatchSize int

	Logger *slog.Logger
}

// NewModule builds the use cases and workers over deps. A nil audit outbox
// disables audit recording.
func NewModule(deps Dependencies) Module {
	var audit ports.AuditSink
	if deps.AuditOutbox != nil {
		audit = commands.OutboxAuditSink{
			Outbox: deps.AuditOutbox,
			IDGen:  deps.IDGen,
			Clock:  deps.Clock,
		}
	}
	ballotUseCase := commands.BallotUseCase{
		Elections:    deps.Elections,
		Eligibility:  deps.Eligibility,
		Catalog:      deps.Catalog,
		Ballots:      deps.Ballots,
		Audit:        audit,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		BallotTTL:    deps.BallotTTL,
		Completeness: deps.Completeness,
		Location:     deps.Location,
		Retry:        deps.Retry,
		Metrics:      deps.Metrics,
		Logger:       deps.Logger,
	}
	reapUseCase := commands.ReapUseCase{
		Ballots:   deps.Ballots,
		Audit:     audit,
		Clock:     deps.Clock,
		BatchSize: deps.ReapBatchSize,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Ballots: ballotUseCase,
			Reaper:  reapUseCase,
			Status: queries.BallotStatusUseCase{
				Ballots: deps.Ballots,
				Clock:   deps.Clock,
			},
			Tally: queries.TallyUseCase{
				Catalog: deps.Catalog,
				Ballots: deps.Ballots,
			},
			Logger: deps.Logger,
		},
		Reaper: workers.TimeoutReaper{
			Reap:     reapUseCase,
			Interval: deps.ReapInterval,
			Logger:   deps.Logger,
		},
		Relay: workers.AuditRelay{
			Outbox:    deps.AuditRelay,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			Topic:     commands.AuditTopic,
			BatchSize: deps.RelayBatchSize,
			Interval:  deps.RelayInterval,
			Logger:    deps.Logger,
		},
	}
}

// NewInMemoryModule wires every port to one memory.Store. clock may be nil to
// use the store's wall clock.
func NewInMemoryModule(clock ports.Clock, logger *slog.Logger) Module {
	store := memory.NewStore()
	if clock == nil {
		clock = store
	}
	module := NewModule(Dependencies{
		Elections:   store,
		Eligibility: store,
		Catalog:     store,
		Ballots:     store,
		AuditOutbox: store,
		AuditRelay:  store,
		Clock:       clock,
		IDGen:       store,
		BallotTTL:   commands.DefaultBallotTTL,
		Logger:      logger,
	})
	module.Store = store
	return module
}
