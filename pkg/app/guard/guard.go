package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/app/scorer"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

const DefaultNotableScore = 55

const (
	ReasonBlockedIP   = "client ip is blocked"
	ReasonQuarantined = "device fingerprint is quarantined"
	ReasonThreatScore = "threat score exceeds block threshold"
	detectionSource   = "guard"
	listedScore       = threat.MaxScore
)

type Config struct {
	NotableScore int `mapstructure:"notable_score"`
}

type History interface {
	Snapshot(ip string) []threat.RequestDescriptor
	Record(ip string, d threat.RequestDescriptor)
}

// Decision is the guard's verdict for one request.
type Decision struct {
	Recommendation threat.Recommendation
	Score          threat.Score
	Descriptor     threat.RequestDescriptor
	CorrelationID  string
	Reason         string
	Forwarded      bool
	FailedOpen     bool
}

// Proceed reports whether the request may reach the business logic.
func (d Decision) Proceed() bool {
	return d.Recommendation != threat.Block
}

// Rejection returns the block payload, or nil when the request may proceed.
func (d Decision) Rejection() *Rejection {
	if d.Proceed() {
		return nil
	}
	return &Rejection{Reason: d.Reason, Score: d.Score.Score, CorrelationID: d.CorrelationID}
}

//go:generate mockery --name=Guard --dir=. --output=../../../mocks --filename=guard_mock.go --case=underscore --with-expecter
type Guard interface {
	Evaluate(ctx context.Context, d threat.RequestDescriptor) Decision
	Complete(d threat.RequestDescriptor, responseTime time.Duration, statusCode int)
}

type guard struct {
	logger    *logrus.Logger
	cfg       Config
	scorer    scorer.Scorer
	history   History
	responder incident.Responder
	audit     auditlogs.Service
	sink      metrics.Sink
}

func New(
	logger *logrus.Logger,
	cfg Config,
	sc scorer.Scorer,
	history History,
	responder incident.Responder,
	auditService auditlogs.Service,
	sink metrics.Sink,
) Guard {
	if cfg.NotableScore <= 0 {
		cfg.NotableScore = DefaultNotableScore
	}
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	return &guard{
		logger:    logger,
		cfg:       cfg,
		scorer:    sc,
		history:   history,
		responder: responder,
		audit:     auditService,
		sink:      sink,
	}
}

// Evaluate scores the request and applies the decision table. Any internal failure fails open.
func (g *guard) Evaluate(ctx context.Context, d threat.RequestDescriptor) Decision {
	decision, err := g.evaluate(ctx, d)
	if err != nil {
		return g.failOpen(d, err)
	}
	return decision
}

func (g *guard) evaluate(ctx context.Context, d threat.RequestDescriptor) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InternalError{Op: "evaluate", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Decision{}, &InternalError{Op: "evaluate", Err: err}
	}

	if listed, ok := g.listed(d); ok {
		return listed, nil
	}

	score := g.scorer.Score(d, g.history.Snapshot(d.ClientIP))
	decision = Decision{
		Recommendation: score.Recommendation,
		Score:          score,
		Descriptor:     d,
	}

	g.sink.Emit(metrics.NewEvent(metrics.EventDecision, d.ClientIP).
		WithLabel(metrics.LabelDecision, string(score.Recommendation)).
		WithValue(float64(score.Score)))
	if score.Score >= g.cfg.NotableScore {
		g.sink.Emit(metrics.NewEvent(metrics.EventScoreNotable, d.ClientIP).
			WithLabel(metrics.LabelCategory, string(score.DominantCategory())).
			WithValue(float64(score.Score)))
	}

	switch score.Recommendation {
	case threat.Block:
		decision.Reason = ReasonThreatScore
		decision.CorrelationID = g.forward(d, score)
		decision.Forwarded = true
		g.record(d, score, audit.LevelWarn, auditlogs.ActionRequestBlocked, audit.ResultBlocked, decision.CorrelationID)
	case threat.Challenge:
		if score.Score >= g.cfg.NotableScore || g.responder.IsMonitored(d.ClientIP) {
			decision.CorrelationID = g.forward(d, score)
			decision.Forwarded = true
		}
		g.record(d, score, audit.LevelWarn, auditlogs.ActionRequestChallenged, audit.ResultSuccess, decision.CorrelationID)
	default:
		if score.Score > 0 {
			g.record(d, score, audit.LevelInfo, auditlogs.ActionRequestScored, audit.ResultSuccess, "")
		}
	}
	return decision, nil
}

func (g *guard) listed(d threat.RequestDescriptor) (Decision, bool) {
	reason, action := "", ""
	switch {
	case g.responder.IsBlocked(d.ClientIP):
		reason, action = ReasonBlockedIP, auditlogs.ActionRequestBlocked
	case d.Fingerprint != "" && g.responder.IsQuarantined(d.Fingerprint):
		reason, action = ReasonQuarantined, auditlogs.ActionRequestQuarantined
	default:
		return Decision{}, false
	}
	score := threat.Score{
		Score:          listedScore,
		Factors:        []string{reason},
		Recommendation: threat.Block,
		Confidence:     1,
	}
	decision := Decision{
		Recommendation: threat.Block,
		Score:          score,
		Descriptor:     d,
		Reason:         reason,
		CorrelationID:  g.responder.NewIncidentID(),
	}
	g.sink.Emit(metrics.NewEvent(metrics.EventDecision, d.ClientIP).
		WithLabel(metrics.LabelDecision, string(threat.Block)).
		WithValue(float64(listedScore)))
	g.record(d, score, audit.LevelWarn, action, audit.ResultBlocked, decision.CorrelationID)
	return decision, true
}

// forward hands the finding to incident response and returns the incident id used as
// correlation id.
func (g *guard) forward(d threat.RequestDescriptor, score threat.Score) string {
	id := g.responder.NewIncidentID()
	det := incident.Detection{
		Category:      score.DominantCategory(),
		Severity:      domain.SeverityForScore(score.Score),
		Score:         score.Score,
		Descriptor:    d,
		Signals:       score.Signals,
		Factors:       score.Factors,
		CorrelationID: id,
		Source:        detectionSource,
	}
	if !g.responder.Submit(det) {
		g.logger.WithFields(logrus.Fields{
			"client_ip":      d.ClientIP,
			"correlation_id": id,
		}).Warn("detection not forwarded to incident response")
	}
	return id
}

func (g *guard) record(
	d threat.RequestDescriptor,
	score threat.Score,
	level audit.Level,
	action string,
	result audit.Result,
	correlationID string,
) {
	evt := auditlogs.SecurityEvent(level, action, result, &audit.Actor{
		IP:          d.ClientIP,
		Fingerprint: d.Fingerprint,
		UserID:      d.UserID,
	}, score.Score)
	evt.Resource = d.Method + " " + d.Path()
	evt.Details["recommendation"] = string(score.Recommendation)
	evt.Details["factors"] = score.Factors
	evt.Details["confidence"] = score.Confidence
	if correlationID != "" {
		evt.Details["correlation_id"] = correlationID
	}
	evt.Tags = []string{auditlogs.TagGuard}
	g.audit.Log(evt)
}

func (g *guard) failOpen(d threat.RequestDescriptor, err error) Decision {
	var internal *InternalError
	if !errors.As(err, &internal) {
		internal = &InternalError{Op: "evaluate", Err: err}
	}
	g.logger.WithError(internal).WithField("client_ip", d.ClientIP).Error("guard failed open")

	evt := auditlogs.SystemEvent(audit.LevelError, auditlogs.ActionGuardInternalError, audit.ResultFailure)
	evt.Actor = &audit.Actor{IP: d.ClientIP, Fingerprint: d.Fingerprint, UserID: d.UserID}
	evt.Details["error"] = internal.Error()
	evt.Tags = []string{auditlogs.TagGuard}
	g.audit.Log(evt)

	return Decision{
		Recommendation: threat.Allow,
		Score:          threat.Score{Factors: []string{}, Recommendation: threat.Allow},
		Descriptor:     d,
		FailedOpen:     true,
	}
}

// Complete commits the finished request to history. It takes no context so that request
// cancellation cannot drop the bookkeeping.
func (g *guard) Complete(d threat.RequestDescriptor, responseTime time.Duration, statusCode int) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithField("panic", r).Error("guard bookkeeping panicked")
		}
	}()
	ms := responseTime.Milliseconds()
	if ms <= 0 && responseTime > 0 {
		ms = 1
	}
	g.history.Record(d.ClientIP, d.WithOutcome(ms, statusCode))
}
