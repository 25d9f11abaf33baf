package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ballotengine "evoting/contexts/voting-core/ballot-engine"
	postgresadapter "evoting/contexts/voting-core/ballot-engine/adapters/postgres"
	application "evoting/contexts/voting-core/ballot-engine/application"
	"evoting/contexts/voting-core/ballot-engine/application/commands"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/internal/platform/config"
	"evoting/internal/platform/db"
	"evoting/internal/platform/httpserver"
	"evoting/internal/platform/messaging"
	"evoting/internal/shared/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const (
	shutdownTimeout = 10 * time.Second
	auditLogGroup   = "ballot-audit-log"
)

// APIApp serves the ballot HTTP API.
type APIApp struct {
	server   *httpserver.Server
	database *db.Database
	logger   *slog.Logger
}

// WorkerApp runs the reaper, the audit relay, and the audit log consumer.
type WorkerApp struct {
	database *db.Database
	broker   *messaging.Broker
	module   ballotengine.Module
	cfg      config.Config
	logger   *slog.Logger
}

type components struct {
	cfg      config.Config
	database *db.Database
	registry *prometheus.Registry
	deps     ballotengine.Dependencies
}

func buildComponents(configPath string, logger *slog.Logger, process string) (components, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return components{}, nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", cfg.ServiceName, "process", process)
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return components{}, nil, errors.New("EVOTING_DATABASE_DSN is required")
	}
	completeness, err := services.ParseCompletenessPolicy(cfg.CompletenessPolicy)
	if err != nil {
		return components{}, nil, err
	}

	database, err := db.Connect(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return components{}, nil, err
	}
	if cfg.AutoMigrate {
		if err := postgresadapter.Migrate(database.DB); err != nil {
			_ = database.Close()
			return components{}, nil, fmt.Errorf("migrate ballot schema: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	repo := postgresadapter.NewRepository(database.DB, logger)
	retry := application.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialInterval = cfg.RetryInitialInterval

	return components{
		cfg:      cfg,
		database: database,
		registry: registry,
		deps: ballotengine.Dependencies{
			Elections:      repo,
			Eligibility:    repo,
			Catalog:        repo,
			Ballots:        repo,
			AuditOutbox:    repo,
			AuditRelay:     repo,
			Clock:          postgresadapter.SystemClock{},
			IDGen:          postgresadapter.UUIDGenerator{},
			BallotTTL:      cfg.BallotTTL,
			Completeness:   completeness,
			Location:       cfg.Location(),
			Retry:          retry,
			Metrics:        application.NewMetrics(registry),
			ReapInterval:   cfg.ReapInterval,
			ReapBatchSize:  cfg.ReapBatchSize,
			RelayInterval:  cfg.RelayInterval,
			RelayBatchSize: cfg.RelayBatchSize,
			Logger:         logger,
		},
	}, logger, nil
}

// BuildAPI loads config and wires the API process.
func BuildAPI(configPath string, logger *slog.Logger) (*APIApp, error) {
	c, logger, err := buildComponents(configPath, logger, "api")
	if err != nil {
		return nil, err
	}
	module := ballotengine.NewModule(c.deps)
	server := httpserver.New(module, c.registry, logger, normalizeAddr(c.cfg.HTTPPort))
	return &APIApp{
		server:   server,
		database: c.database,
		logger:   logger,
	}, nil
}

// BuildWorker loads config and wires the worker process.
func BuildWorker(configPath string, logger *slog.Logger) (*WorkerApp, error) {
	c, logger, err := buildComponents(configPath, logger, "worker")
	if err != nil {
		return nil, err
	}
	broker, err := messaging.NewBroker(c.cfg.KafkaBrokers, logger)
	if err != nil {
		_ = c.database.Close()
		return nil, err
	}
	c.deps.Publisher = broker
	return &WorkerApp{
		database: c.database,
		broker:   broker,
		module:   ballotengine.NewModule(c.deps),
		cfg:      c.cfg,
		logger:   logger,
	}, nil
}

// Run serves HTTP until ctx is done, then shuts the server down gracefully.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(a.server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (a *APIApp) Close() error {
	return a.database.Close()
}

// Run drives the enabled workers until ctx is done.
func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"reaper_enabled", w.cfg.EnableReaper,
		"audit_relay_enabled", w.cfg.EnableAuditRelay,
		"reap_interval", w.cfg.ReapInterval.String(),
		"relay_interval", w.cfg.RelayInterval.String(),
	)
	group, groupCtx := errgroup.WithContext(ctx)
	if w.cfg.EnableReaper {
		group.Go(func() error { return w.module.Reaper.Run(groupCtx) })
	}
	if w.cfg.EnableAuditRelay {
		if err := w.broker.Subscribe(groupCtx, commands.AuditTopic, auditLogGroup, w.logAuditEvent); err != nil {
			return err
		}
		group.Go(func() error { return w.module.Relay.Run(groupCtx) })
	}
	return group.Wait()
}

// logAuditEvent is the in-process audit consumer: every relayed lifecycle
// event lands in the structured log stream.
func (w *WorkerApp) logAuditEvent(_ context.Context, envelope events.Envelope) error {
	w.logger.Info("ballot audit event",
		"event", "ballot_audit_event_consumed",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"audit_type", envelope.EventType,
		"event_id", envelope.EventID,
		"election", envelope.PartitionKey,
		"occurred_at", envelope.OccurredAt,
	)
	return nil
}

func (w *WorkerApp) Close() error {
	return errors.Join(w.broker.Close(), w.database.Close())
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
