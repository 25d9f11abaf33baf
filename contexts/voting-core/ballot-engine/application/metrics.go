package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	ballotsStarted   prometheus.Counter
	ballotsResumed   prometheus.Counter
	ballotsSubmitted prometheus.Counter
	ballotsReplayed  prometheus.Counter
	ballotsAbandoned prometheus.Counter
	ballotsExpired   *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	invariantRepairs prometheus.Counter
	submitDuration   prometheus.Histogram
	reaperSweeps     prometheus.Counter
	auditFailures    prometheus.Counter
}

// NewMetrics registers the ballot collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		ballotsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballots_started_total",
			Help: "number of ballots opened",
		}),
		ballotsResumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballots_resumed_total",
			Help: "number of start requests answered with an existing open ballot",
		}),
		ballotsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballots_submitted_total",
			Help: "number of ballots submitted and tallied",
		}),
		ballotsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballot_submit_replays_total",
			Help: "number of submit calls on an already submitted ballot",
		}),
		ballotsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballots_abandoned_total",
			Help: "number of ballots abandoned by voters",
		}),
		ballotsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evoting_ballots_expired_total",
			Help: "number of ballots expired, by detection path",
		}, []string{"path"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evoting_ballot_rejections_total",
			Help: "number of rejected ballot operations, by operation and kind",
		}, []string{"operation", "kind"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evoting_ballot_conflicts_total",
			Help: "number of optimistic concurrency conflicts, by operation",
		}, []string{"operation"}),
		invariantRepairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballot_invariant_repairs_total",
			Help: "number of duplicate open ballots expired by invariant repair",
		}),
		submitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "evoting_ballot_submit_duration_seconds",
			Help:    "latency of successful ballot submissions",
			Buckets: prometheus.DefBuckets,
		}),
		reaperSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_ballot_reaper_sweeps_total",
			Help: "number of timeout reaper sweeps",
		}),
		auditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "evoting_audit_record_failures_total",
			Help: "number of audit events that could not be recorded",
		}),
	}
}

func (m *Metrics) BallotStarted() {
	if m != nil {
		m.ballotsStarted.Inc()
	}
}

func (m *Metrics) BallotResumed() {
	if m != nil {
		m.ballotsResumed.Inc()
	}
}

func (m *Metrics) BallotSubmitted(elapsed time.Duration) {
	if m != nil {
		m.ballotsSubmitted.Inc()
		m.submitDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) SubmitReplayed() {
	if m != nil {
		m.ballotsReplayed.Inc()
	}
}

func (m *Metrics) BallotAbandoned() {
	if m != nil {
		m.ballotsAbandoned.Inc()
	}
}

func (m *Metrics) BallotExpired(path string) {
	if m != nil {
		m.ballotsExpired.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) Rejected(operation string, kind string) {
	if m != nil {
		m.rejections.WithLabelValues(operation, kind).Inc()
	}
}

func (m *Metrics) Conflict(operation string) {
	if m != nil {
		m.conflicts.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) InvariantRepaired(count int) {
	if m != nil {
		m.invariantRepairs.Add(float64(count))
	}
}

func (m *Metrics) ReaperSweep() {
	if m != nil {
		m.reaperSweeps.Inc()
	}
}

func (m *Metrics) AuditFailed() {
	if m != nil {
		m.auditFailures.Inc()
	}
}
