package prometheus

import (
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scoreBuckets = []float64{0, 10, 20, 30, 40, 50, 55, 60, 70, 80, 90, 100}

type MetricsConfig struct {
	EnableProcess   bool // Process collector (cpu, memory, fds)
	EnableScoreHist bool // Score distribution for every decision
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		EnableProcess:   true,
		EnableScoreHist: true,
	}
}

// Metrics owns a private registry and turns pipeline signals into series.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry

	DecisionsTotal     *prometheus.CounterVec
	ThreatScore        prometheus.Histogram
	NotableScoresTotal *prometheus.CounterVec
	BlocksTotal        *prometheus.CounterVec
	UnblocksTotal      *prometheus.CounterVec
	BlockedSubjects    *prometheus.GaugeVec
	IncidentsTotal     *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	AuditFlushedTotal  *prometheus.CounterVec
}

func New(cfg MetricsConfig) *Metrics {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(nil, registry)
	factory := promauto.With(registerer)

	if cfg.EnableProcess {
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Metrics{
		cfg:      cfg,
		registry: registry,
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_decisions_total",
				Help: "Total number of guard decisions",
			},
			[]string{"decision"},
		),
		ThreatScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustguard_threat_score",
				Help:    "Distribution of request threat scores",
				Buckets: scoreBuckets,
			},
		),
		NotableScoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_notable_scores_total",
				Help: "Scores at or above the notable threshold",
			},
			[]string{"category"},
		),
		BlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_blocks_total",
				Help: "Blocks and quarantines applied",
			},
			[]string{"kind"},
		),
		UnblocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_unblocks_total",
				Help: "Blocks and quarantines lifted",
			},
			[]string{"kind"},
		),
		BlockedSubjects: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trustguard_blocked_subjects",
				Help: "Currently blocked IPs and quarantined fingerprints",
			},
			[]string{"kind"},
		),
		IncidentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_incidents_total",
				Help: "Security incidents created",
			},
			[]string{"category", "severity", "playbook"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trustguard_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half_open, 2 open)",
			},
			[]string{"breaker"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"breaker", "state"},
		),
		AuditFlushedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustguard_audit_flushed_events_total",
				Help: "Audit events handed to storage",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Emit implements metrics.Sink.
func (m *Metrics) Emit(evt metrics.Event) {
	switch evt.Type {
	case metrics.EventDecision:
		m.DecisionsTotal.WithLabelValues(evt.Label(metrics.LabelDecision)).Inc()
		if m.cfg.EnableScoreHist {
			m.ThreatScore.Observe(evt.Value)
		}
	case metrics.EventScoreNotable:
		m.NotableScoresTotal.WithLabelValues(evt.Label(metrics.LabelCategory)).Inc()
	case metrics.EventBlocked:
		kind := evt.Label(metrics.LabelKind)
		m.BlocksTotal.WithLabelValues(kind).Inc()
		m.BlockedSubjects.WithLabelValues(kind).Inc()
	case metrics.EventUnblocked:
		kind := evt.Label(metrics.LabelKind)
		m.UnblocksTotal.WithLabelValues(kind).Inc()
		m.BlockedSubjects.WithLabelValues(kind).Dec()
	case metrics.EventIncidentCreated:
		m.IncidentsTotal.WithLabelValues(
			evt.Label(metrics.LabelCategory),
			evt.Label(metrics.LabelSeverity),
			evt.Label(metrics.LabelPlaybook),
		).Inc()
	case metrics.EventBreakerStateChanged:
		state := evt.Label(metrics.LabelState)
		m.BreakerState.WithLabelValues(evt.Subject).Set(stateValue(state))
		m.BreakerTransitions.WithLabelValues(evt.Subject, state).Inc()
	case metrics.EventAuditFlushed:
		m.AuditFlushedTotal.WithLabelValues(evt.Label(metrics.LabelResult)).Add(evt.Value)
	}
}

func stateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
