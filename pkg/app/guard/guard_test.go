package guard_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/guard"
	"github.com/NeuralTrust/TrustGuard/pkg/app/history"
	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/app/scorer"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/cache"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"

type passthrough struct{}

func (passthrough) Execute(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAudit) Log(evt audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
}

func (a *fakeAudit) Flush(context.Context) error { return nil }
func (a *fakeAudit) Query(context.Context, audit.Filter, int) ([]audit.Event, error) {
	return nil, nil
}
func (a *fakeAudit) Run(context.Context) error   { return nil }
func (a *fakeAudit) Close(context.Context) error { return nil }

func (a *fakeAudit) find(action string) (audit.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Action == action {
			return e, true
		}
	}
	return audit.Event{}, false
}

// syncResponder runs incident response inline so tests can assert on its outcome.
type syncResponder struct {
	*incident.Engine
	mu        sync.Mutex
	incidents []*domain.SecurityIncident
}

func (r *syncResponder) Submit(det incident.Detection) bool {
	inc, err := r.Engine.Handle(context.Background(), det)
	if err != nil {
		return false
	}
	r.mu.Lock()
	r.incidents = append(r.incidents, inc)
	r.mu.Unlock()
	return true
}

func (r *syncResponder) handled() []*domain.SecurityIncident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.SecurityIncident(nil), r.incidents...)
}

type fixture struct {
	guard     guard.Guard
	responder *syncResponder
	history   *history.Store
	repo      *repository.Memory
	audit     *fakeAudit
	sink      *metrics.RecordingSink
}

func newFixture(t *testing.T, sc scorer.Scorer) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		history: history.NewStore(logger, history.Config{}),
		repo:    repository.NewMemory(0, 0),
		audit:   &fakeAudit{},
		sink:    metrics.NewRecordingSink(256),
	}
	engine := incident.NewEngine(incident.Config{}, incident.Deps{
		Logger:     logger,
		Repository: f.repo,
		Breakers:   passthrough{},
		Audit:      f.audit,
		Sink:       f.sink,
		History:    f.history,
	})
	f.responder = &syncResponder{Engine: engine}
	f.guard = guard.New(logger, guard.Config{}, sc, f.history, f.responder, f.audit, f.sink)
	return f
}

func cleanRequest(ip string, at time.Time) guard.RawRequest {
	return guard.RawRequest{
		RemoteAddr: ip + ":51234",
		Method:     "get",
		URI:        "/api/v1/products",
		ReceivedAt: at,
		Headers: map[string]string{
			"User-Agent":      browserUA,
			"Accept":          "application/json",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
			"Connection":      "keep-alive",
		},
	}
}

func TestBuildDescriptor_ClientIPPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1", "X-Real-IP": "198.51.100.1"}, "10.1.1.1:80", "203.0.113.5"},
		{"invalid hop skipped", map[string]string{"X-Forwarded-For": "unknown, 203.0.113.9"}, "10.1.1.1:80", "203.0.113.9"},
		{"hop with port", map[string]string{"X-Forwarded-For": "203.0.113.5:443, 10.0.0.1"}, "10.1.1.1:80", "203.0.113.5"},
		{"bracketed ipv6 hop with port", map[string]string{"X-Forwarded-For": "[2001:db8::7]:8443"}, "10.1.1.1:80", "2001:db8::7"},
		{"bare ipv6 hop", map[string]string{"X-Forwarded-For": "2001:db8::8"}, "10.1.1.1:80", "2001:db8::8"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.1"}, "10.1.1.1:80", "198.51.100.1"},
		{"cdn header", map[string]string{"CF-Connecting-IP": "192.0.2.44"}, "10.1.1.1:80", "192.0.2.44"},
		{"socket", nil, "10.1.1.1:80", "10.1.1.1"},
		{"ipv6 socket", nil, "[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := guard.BuildDescriptor(guard.RawRequest{Headers: tt.headers, RemoteAddr: tt.remote})
			assert.Equal(t, tt.want, d.ClientIP)
		})
	}
}

func TestBuildDescriptor_HeadersWhitelistedAndCapped(t *testing.T) {
	raw := cleanRequest("203.0.113.7", time.Now())
	raw.Headers["Authorization"] = "Bearer secret"
	raw.Headers["X-Custom"] = "value"
	raw.Headers["Referer"] = strings.Repeat("a", 300)
	raw.Headers["Origin"] = strings.Repeat("é", 200)
	raw.ContentLength = -1

	d := guard.BuildDescriptor(raw)

	assert.Equal(t, "GET", d.Method)
	assert.Equal(t, browserUA, d.UserAgent)
	assert.NotContains(t, d.Headers, "authorization")
	assert.NotContains(t, d.Headers, "x-custom")
	assert.Len(t, d.Headers["referer"], 256)
	assert.LessOrEqual(t, len(d.Headers["origin"]), 256)
	assert.True(t, strings.HasPrefix(d.Headers["origin"], "é"))
	assert.Equal(t, int64(0), d.PayloadSizeBytes)
	assert.True(t, strings.HasPrefix(d.Fingerprint, "fp_"))
}

func TestBuildDescriptor_CapKeepsValueWithInvalidPrefix(t *testing.T) {
	raw := cleanRequest("203.0.113.7", time.Now())
	raw.Headers["Referer"] = "\xff" + strings.Repeat("a", 400)
	raw.Headers["User-Agent"] = "\xfe" + browserUA + strings.Repeat("b", 300)
	raw.Headers["Origin"] = strings.Repeat("a", 255) + "é"

	d := guard.BuildDescriptor(raw)

	assert.Len(t, d.Headers["referer"], 256)
	assert.Len(t, d.UserAgent, 256)
	assert.True(t, strings.HasPrefix(d.UserAgent, "\xfe"+browserUA))
	assert.Equal(t, strings.Repeat("a", 255), d.Headers["origin"])
}

func TestGuard_CleanRequestAllowed(t *testing.T) {
	f := newFixture(t, scorer.New())
	d := guard.BuildDescriptor(cleanRequest("203.0.113.7", time.Now()))

	decision := f.guard.Evaluate(context.Background(), d)

	assert.Equal(t, threat.Allow, decision.Recommendation)
	assert.Equal(t, 0, decision.Score.Score)
	assert.True(t, decision.Proceed())
	assert.Nil(t, decision.Rejection())
	assert.False(t, decision.Forwarded)
	assert.Empty(t, f.responder.handled())
	_, scored := f.audit.find(auditlogs.ActionRequestScored)
	assert.False(t, scored)
}

func TestGuard_SqlmapUnionBlockedWithIncident(t *testing.T) {
	f := newFixture(t, scorer.New())
	raw := cleanRequest("198.51.100.23", time.Now())
	raw.URI = "/api/users?id=1 UNION SELECT username, password FROM users"
	raw.Headers["User-Agent"] = "sqlmap/1.5"
	d := guard.BuildDescriptor(raw)

	decision := f.guard.Evaluate(context.Background(), d)

	require.Equal(t, threat.Block, decision.Recommendation)
	assert.GreaterOrEqual(t, decision.Score.Score, threat.BlockScore)
	assert.False(t, decision.Proceed())
	require.NotNil(t, decision.Rejection())
	assert.Equal(t, guard.ReasonThreatScore, decision.Rejection().Reason)
	assert.NotEmpty(t, decision.CorrelationID)

	incidents := f.responder.handled()
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, decision.CorrelationID, inc.ID)
	assert.Equal(t, string(threat.CategorySQLInjection), inc.Category)
	assert.True(t, inc.AutoBlocked)
	assert.NotEmpty(t, inc.ExecutedActions(domain.ActionBlock))
	assert.Equal(t, domain.StatusPersisted, inc.Status)

	stored, err := f.repo.FindIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.PlaybookExecuted, stored.PlaybookExecuted)

	evt, ok := f.audit.find(auditlogs.ActionRequestBlocked)
	require.True(t, ok)
	assert.Equal(t, audit.ResultBlocked, evt.Result)
	assert.Equal(t, "198.51.100.23", evt.Actor.IP)

	// the follow-up request is rejected by the blocklist
	next := f.guard.Evaluate(context.Background(), guard.BuildDescriptor(cleanRequest("198.51.100.23", time.Now())))
	assert.Equal(t, threat.Block, next.Recommendation)
	assert.Equal(t, guard.ReasonBlockedIP, next.Reason)
	assert.Equal(t, threat.MaxScore, next.Score.Score)
	assert.Len(t, f.responder.handled(), 1)
}

func TestGuard_HighFrequencyScriptedClientChallenged(t *testing.T) {
	f := newFixture(t, scorer.New())
	now := time.Now()
	scripted := func(at time.Time) threat.RequestDescriptor {
		return guard.BuildDescriptor(guard.RawRequest{
			RemoteAddr: "192.0.2.50:40000",
			Method:     "GET",
			URI:        "/api/v1/products",
			ReceivedAt: at,
			Headers:    map[string]string{"User-Agent": browserUA, "Accept": "*/*"},
		})
	}

	for i := 50; i > 0; i-- {
		f.guard.Complete(scripted(now.Add(-time.Duration(i)*time.Second)), 20*time.Millisecond, 200)
	}
	require.Equal(t, 50, f.history.Len("192.0.2.50"))

	decision := f.guard.Evaluate(context.Background(), scripted(now))

	assert.Equal(t, threat.Challenge, decision.Recommendation)
	assert.GreaterOrEqual(t, decision.Score.Score, threat.ChallengeScore)
	assert.Less(t, decision.Score.Score, guard.DefaultNotableScore)
	assert.True(t, decision.Score.Confidence > 0)
	assert.False(t, decision.Forwarded)
	assert.Empty(t, f.responder.handled())
}

func fixedScore(points int) scorer.Rule {
	return scorer.Rule{Name: "fixed", Eval: func(threat.RequestDescriptor, []threat.RequestDescriptor) []threat.Signal {
		return []threat.Signal{{Rule: "fixed", Points: points, Category: threat.CategoryAnomaly}}
	}}
}

func TestGuard_ChallengeForwardingPolicy(t *testing.T) {
	tests := []struct {
		name      string
		points    int
		monitored bool
		forwarded bool
	}{
		{"low challenge audited only", 40, false, false},
		{"challenge below notable", 54, false, false},
		{"notable challenge forwarded", 55, false, true},
		{"high challenge forwarded", 69, false, true},
		{"monitored ip forwarded at any challenge score", 40, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, scorer.NewWithRules(fixedScore(tt.points)))
			ip := "192.0.2.60"
			if tt.monitored {
				_, err := f.responder.Engine.Handle(context.Background(), incident.Detection{
					Category:   threat.CategoryAnomaly,
					Score:      45,
					Descriptor: threat.RequestDescriptor{ClientIP: ip},
				})
				require.NoError(t, err)
				require.True(t, f.responder.IsMonitored(ip))
				require.False(t, f.responder.IsBlocked(ip))
			}

			decision := f.guard.Evaluate(context.Background(), guard.BuildDescriptor(cleanRequest(ip, time.Now())))

			require.Equal(t, threat.Challenge, decision.Recommendation)
			assert.Equal(t, tt.points, decision.Score.Score)
			assert.True(t, decision.Proceed())
			assert.Equal(t, tt.forwarded, decision.Forwarded)

			evt, ok := f.audit.find(auditlogs.ActionRequestChallenged)
			require.True(t, ok)
			assert.Equal(t, audit.LevelWarn, evt.Level)
			if tt.forwarded {
				assert.NotEmpty(t, decision.CorrelationID)
				require.Len(t, f.responder.handled(), 1)
				assert.Equal(t, decision.CorrelationID, f.responder.handled()[0].ID)
				assert.Equal(t, decision.CorrelationID, evt.Details["correlation_id"])
			} else {
				assert.Empty(t, decision.CorrelationID)
				assert.Empty(t, f.responder.handled())
				assert.NotContains(t, evt.Details, "correlation_id")
			}
		})
	}
}

func TestGuard_ListedFingerprintBlocked(t *testing.T) {
	f := newFixture(t, scorer.New())
	d := guard.BuildDescriptor(cleanRequest("203.0.113.80", time.Now()))
	require.NoError(t, f.responder.ApplyPeerEvent(context.Background(), cache.BlocklistEventBlock, cache.BlocklistEvent{
		Subject:   d.Fingerprint,
		Kind:      string(domain.BlockKindFingerprint),
		Reason:    "automation",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	decision := f.guard.Evaluate(context.Background(), d)

	assert.Equal(t, threat.Block, decision.Recommendation)
	assert.Equal(t, guard.ReasonQuarantined, decision.Reason)
	_, ok := f.audit.find(auditlogs.ActionRequestQuarantined)
	assert.True(t, ok)
}

func TestGuard_ManualBlock(t *testing.T) {
	f := newFixture(t, scorer.New())
	_, err := f.responder.BlockIP(context.Background(), "203.0.113.81", "manual", time.Hour, false)
	require.NoError(t, err)

	decision := f.guard.Evaluate(context.Background(), guard.BuildDescriptor(cleanRequest("203.0.113.81", time.Now())))

	assert.Equal(t, threat.Block, decision.Recommendation)
	assert.Equal(t, guard.ReasonBlockedIP, decision.Rejection().Reason)
	assert.Equal(t, threat.MaxScore, decision.Rejection().Score)
}

func TestGuard_FailsOpenOnInternalError(t *testing.T) {
	boom := scorer.Rule{Name: "boom", Eval: func(threat.RequestDescriptor, []threat.RequestDescriptor) []threat.Signal {
		panic("rule exploded")
	}}
	f := newFixture(t, scorer.NewWithRules(boom))
	d := guard.BuildDescriptor(cleanRequest("203.0.113.90", time.Now()))

	decision := f.guard.Evaluate(context.Background(), d)

	assert.Equal(t, threat.Allow, decision.Recommendation)
	assert.True(t, decision.FailedOpen)
	assert.True(t, decision.Proceed())

	evt, ok := f.audit.find(auditlogs.ActionGuardInternalError)
	require.True(t, ok)
	assert.Equal(t, audit.CategorySystem, evt.Category)
	assert.Equal(t, audit.LevelError, evt.Level)
	assert.Contains(t, evt.Details["error"], "rule exploded")
}

func TestGuard_CancelledContextFailsOpen(t *testing.T) {
	f := newFixture(t, scorer.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := f.guard.Evaluate(ctx, guard.BuildDescriptor(cleanRequest("203.0.113.91", time.Now())))
	assert.True(t, decision.FailedOpen)
}

func TestGuard_CompleteRecordsOutcome(t *testing.T) {
	f := newFixture(t, scorer.New())
	d := guard.BuildDescriptor(cleanRequest("203.0.113.92", time.Now()))

	f.guard.Complete(d, 300*time.Microsecond, 201)

	snap := f.history.Snapshot("203.0.113.92")
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].ResponseTimeMs)
	assert.Equal(t, 201, snap[0].StatusCode)
}
