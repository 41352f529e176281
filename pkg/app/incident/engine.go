package incident

import (
	"context"
	"sync"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/history"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/alerting"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/cache"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/fingerprint"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWorkers         = 4
	DefaultQueueSize       = 1024
	DefaultMonitorTTL      = time.Hour
	DefaultProfileTTL      = 24 * time.Hour
	DefaultEvidenceHistory = 20
	DefaultMaxRelated      = 50
	DefaultHandleTimeout   = 10 * time.Second
)

type Config struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
	OutboxSize      int           `mapstructure:"outbox_size"`
	MonitorTTL      time.Duration `mapstructure:"monitor_ttl"`
	ProfileTTL      time.Duration `mapstructure:"profile_ttl"`
	EvidenceHistory int           `mapstructure:"evidence_history"`
	MaxRelated      int           `mapstructure:"max_related"`
	HandleTimeout   time.Duration `mapstructure:"handle_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MonitorTTL <= 0 {
		c.MonitorTTL = DefaultMonitorTTL
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = DefaultProfileTTL
	}
	if c.EvidenceHistory <= 0 {
		c.EvidenceHistory = DefaultEvidenceHistory
	}
	if c.MaxRelated <= 0 {
		c.MaxRelated = DefaultMaxRelated
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = DefaultHandleTimeout
	}
	return c
}

// Deps are the collaborators of the engine. History, Publisher and Fingerprints are optional.
type Deps struct {
	Logger       *logrus.Logger
	Repository   domain.Repository
	Breakers     breaker.Executor
	Notifier     alerting.Notifier
	Audit        auditlogs.Service
	Sink         metrics.Sink
	History      history.Reader
	Publisher    cache.EventPublisher
	Fingerprints fingerprint.Tracker
}

//go:generate mockery --name=Responder --dir=. --output=../../../mocks --filename=incident_responder_mock.go --case=underscore --with-expecter
type Responder interface {
	NewIncidentID() string
	Submit(det Detection) bool
	IsBlocked(ip string) bool
	IsQuarantined(fingerprint string) bool
	IsMonitored(ip string) bool
}

// Engine turns detections into incidents and runs their playbooks.
type Engine struct {
	logger    *logrus.Logger
	cfg       Config
	repo      domain.Repository
	breakers  breaker.Executor
	notifier  alerting.Notifier
	audit     auditlogs.Service
	sink      metrics.Sink
	history   history.Reader
	publisher cache.EventPublisher
	tracker   fingerprint.Tracker

	blocks      *Blocklist
	blockWrites sync.Mutex
	monitored   *cache.TTLMap[time.Time]
	profiles    *cache.TTLMap[ActorProfile]
	outbox      *outbox
	ids         *IDGenerator
	queue       chan Detection
	wg          sync.WaitGroup
	now         func() time.Time
}

func NewEngine(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	sink := deps.Sink
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = alerting.NewLogNotifier(deps.Logger)
	}
	e := &Engine{
		logger:    deps.Logger,
		cfg:       cfg,
		repo:      deps.Repository,
		breakers:  deps.Breakers,
		notifier:  notifier,
		audit:     deps.Audit,
		sink:      sink,
		history:   deps.History,
		publisher: deps.Publisher,
		tracker:   deps.Fingerprints,
		monitored: cache.NewTTLMap[time.Time](cfg.MonitorTTL),
		profiles:  cache.NewTTLMap[ActorProfile](cfg.ProfileTTL),
		outbox:    newOutbox(deps.Logger, cfg.RetryBase, cfg.RetryMax, cfg.OutboxSize),
		ids:       NewIDGenerator(),
		queue:     make(chan Detection, cfg.QueueSize),
		now:       time.Now,
	}
	e.blocks = NewBlocklist(e.onExpire)
	e.blocks.now = e.clock
	e.outbox.now = e.clock
	e.ids.now = e.clock
	return e
}

func (e *Engine) clock() time.Time {
	return e.now()
}

func (e *Engine) NewIncidentID() string {
	return e.ids.Next()
}

// Submit queues a detection for the worker pool. It never blocks; a full queue drops the
// detection and returns false.
func (e *Engine) Submit(det Detection) bool {
	select {
	case e.queue <- det:
		return true
	default:
		e.logger.WithFields(logrus.Fields{
			"client_ip": det.Descriptor.ClientIP,
			"category":  det.Category,
			"score":     det.Score,
		}).Warn("incident queue full, detection dropped")
		return false
	}
}

// Handle runs the response state machine for one detection. Persistence failures are queued
// for retry and do not fail the call.
func (e *Engine) Handle(ctx context.Context, det Detection) (*domain.SecurityIncident, error) {
	if err := det.validate(); err != nil {
		return nil, err
	}
	id := det.CorrelationID
	if id == "" {
		id = e.ids.Next()
	}
	inc := &domain.SecurityIncident{
		ID:          id,
		Timestamp:   e.now().UTC(),
		Severity:    det.severity(),
		Category:    string(det.Category),
		Actor:       det.actor(),
		ThreatScore: det.Score,
		Status:      domain.StatusDetected,
		Actions:     []domain.ResponseAction{},
		Evidence: map[string]interface{}{
			"score":      det.Score,
			"factors":    det.Factors,
			"endpoint":   det.Descriptor.Endpoint,
			"method":     det.Descriptor.Method,
			"user_agent": det.Descriptor.UserAgent,
			"source":     det.Source,
		},
	}

	e.trackFingerprint(ctx, det, inc)

	pb := SelectPlaybook(det.Category, inc.Severity)
	inc.PlaybookExecuted = pb.Name
	inc.Status = domain.StatusPlaybookSelected

	for _, step := range pb.Steps {
		if !step.applies(det) {
			continue
		}
		action := e.execute(ctx, step, det, inc)
		inc.Actions = append(inc.Actions, action)
		if !action.Executed {
			evt := auditlogs.NewEvent(audit.LevelError, audit.CategorySecurity, auditlogs.ActionIncidentActionFailed, audit.ResultFailure)
			evt.Resource = auditlogs.ResourceIncident + ":" + inc.ID
			evt.Actor = auditActor(inc.Actor)
			evt.Details["step"] = string(step.Kind)
			evt.Details["error"] = action.Error
			evt.Tags = []string{auditlogs.TagIncident}
			e.audit.Log(evt)
		}
	}
	inc.Status = domain.StatusActionsExecuted

	if e.persistIncident(ctx, inc) {
		inc.Status = domain.StatusPersisted
	}

	e.sink.Emit(metrics.NewEvent(metrics.EventIncidentCreated, inc.ID).
		WithLabel(metrics.LabelCategory, inc.Category).
		WithLabel(metrics.LabelSeverity, string(inc.Severity)).
		WithLabel(metrics.LabelPlaybook, inc.PlaybookExecuted).
		WithValue(float64(inc.ThreatScore)))
	e.auditIncident(inc)

	e.logger.WithFields(logrus.Fields{
		"incident_id":  inc.ID,
		"category":     inc.Category,
		"severity":     inc.Severity,
		"playbook":     inc.PlaybookExecuted,
		"auto_blocked": inc.AutoBlocked,
	}).Info("incident handled")
	return inc, nil
}

func (e *Engine) auditIncident(inc *domain.SecurityIncident) {
	result := audit.ResultSuccess
	if inc.AutoBlocked {
		result = audit.ResultBlocked
	}
	evt := auditlogs.SecurityEvent(levelFor(inc.Severity), auditlogs.ActionIncidentCreated, result, auditActor(inc.Actor), inc.ThreatScore)
	evt.Resource = auditlogs.ResourceIncident + ":" + inc.ID
	evt.Details["category"] = inc.Category
	evt.Details["severity"] = string(inc.Severity)
	evt.Details["playbook"] = inc.PlaybookExecuted
	evt.Details["actions"] = len(inc.Actions)
	evt.Tags = []string{auditlogs.TagIncident}
	e.audit.Log(evt)
}

func levelFor(s domain.Severity) audit.Level {
	switch s {
	case domain.SeverityCritical:
		return audit.LevelCritical
	case domain.SeverityHigh:
		return audit.LevelError
	case domain.SeverityMedium:
		return audit.LevelWarn
	default:
		return audit.LevelInfo
	}
}

func auditActor(a domain.Actor) *audit.Actor {
	return &audit.Actor{IP: a.IP, Fingerprint: a.Fingerprint, UserID: a.UserID}
}

// Run starts the worker pool and the persistence retry loop. Queued detections are drained
// before it returns.
func (e *Engine) Run(ctx context.Context) error {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	ticker := time.NewTicker(defaultRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.blocks.Stop()
			return nil
		case <-ticker.C:
			e.RetryPending(ctx)
			e.profiles.Purge()
			e.monitored.Purge()
		}
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case det := <-e.queue:
			e.handleQueued(context.WithoutCancel(ctx), det)
		case <-ctx.Done():
			for {
				select {
				case det := <-e.queue:
					e.handleQueued(context.WithoutCancel(ctx), det)
				default:
					e.logger.WithField("worker", id).Debug("incident worker stopped")
					return
				}
			}
		}
	}
}

func (e *Engine) handleQueued(parent context.Context, det Detection) {
	ctx, cancel := context.WithTimeout(parent, e.cfg.HandleTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("incident handling panicked")
		}
	}()
	if _, err := e.Handle(ctx, det); err != nil {
		e.logger.WithError(err).Warn("detection rejected")
	}
}

func (e *Engine) IsBlocked(ip string) bool {
	return e.blocks.Contains(domain.BlockKindIP, ip)
}

func (e *Engine) IsQuarantined(fingerprint string) bool {
	return e.blocks.Contains(domain.BlockKindFingerprint, fingerprint)
}

func (e *Engine) IsMonitored(ip string) bool {
	_, ok := e.monitored.Get(ip)
	return ok
}

// Profile returns the actor profile built by honeypot playbooks.
func (e *Engine) Profile(ip string) (ActorProfile, bool) {
	return e.profiles.Get(ip)
}

// ActiveBlocks lists active IP blocks and fingerprint quarantines.
func (e *Engine) ActiveBlocks() []domain.BlockRecord {
	return e.blocks.Active("")
}

// Pending is the number of persistence writes waiting for retry.
func (e *Engine) Pending() int {
	return e.outbox.len()
}
