package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/history"
	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	handlers "github.com/NeuralTrust/TrustGuard/pkg/handlers/http"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/repository"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type fixture struct {
	app      *fiber.App
	engine   *incident.Engine
	repo     *repository.Memory
	audit    auditlogs.Service
	breakers *breaker.Registry
}

type stubProfiles map[string]incident.ActorProfile

func (s stubProfiles) Profile(ip string) (incident.ActorProfile, bool) {
	p, ok := s[ip]
	return p, ok
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubForwarder struct{ err error }

func (f stubForwarder) Forward(_ context.Context, _ *fasthttp.Request, out *fasthttp.Response, clientIP string) error {
	if f.err != nil {
		return f.err
	}
	out.SetStatusCode(fiber.StatusOK)
	out.SetBodyString("upstream saw " + clientIP)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		repo:     repository.NewMemory(0, 0),
		breakers: breaker.NewRegistry(logger, metrics.NewNopSink(), breaker.DefaultConfig()),
	}
	f.audit = auditlogs.NewService(logger, f.repo, f.breakers, metrics.NewNopSink(), auditlogs.Config{})
	f.engine = incident.NewEngine(incident.Config{}, incident.Deps{
		Logger:     logger,
		Repository: f.repo,
		Breakers:   f.breakers,
		Audit:      f.audit,
		Sink:       metrics.NewNopSink(),
		History:    history.NewStore(logger, history.Config{}),
	})

	profiles := stubProfiles{"203.0.113.7": {IP: "203.0.113.7", Incidents: 2}}

	f.app = fiber.New()
	f.app.Get("/health", handlers.NewHealthHandler(logger, f.breakers, map[string]handlers.Pinger{
		"database": stubPinger{},
		"redis":    nil,
	}).Handle)
	f.app.Get("/version", handlers.NewGetVersionHandler(logger).Handle)
	f.app.Get("/audit/events", handlers.NewListAuditEventsHandler(logger, f.audit).Handle)
	f.app.Get("/blocks", handlers.NewListBlocksHandler(logger, f.engine).Handle)
	f.app.Post("/blocks", handlers.NewCreateBlockHandler(logger, f.engine).Handle)
	f.app.Delete("/blocks/:subject", handlers.NewDeleteBlockHandler(logger, f.engine).Handle)
	f.app.Get("/incidents", handlers.NewListIncidentsHandler(logger, f.repo).Handle)
	f.app.Get("/incidents/:incident_id", handlers.NewGetIncidentHandler(logger, f.repo).Handle)
	f.app.Get("/profiles/:ip", handlers.NewGetProfileHandler(logger, profiles).Handle)
	f.app.Get("/breakers", handlers.NewListBreakersHandler(logger, f.breakers).Handle)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

type list[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, fiber.MethodGet, "/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.NotContains(t, checks, "redis")
}

func TestHealthHandler_DegradedDependency(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app := fiber.New()
	app.Get("/health", handlers.NewHealthHandler(logger, nil, map[string]handlers.Pinger{
		"database": stubPinger{err: errors.New("connection refused")},
	}).Handle)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestGetVersionHandler(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, fiber.MethodGet, "/version", nil)
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "TrustGuard", body["app_name"])
}

func TestBlockLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, fiber.MethodPost, "/blocks", map[string]interface{}{
		"ip":       "198.51.100.23",
		"reason":   "credential stuffing",
		"duration": "2h",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created domain.BlockRecord
	decode(t, resp, &created)
	assert.Equal(t, "198.51.100.23", created.Subject)
	assert.Equal(t, domain.BlockKindIP, created.Kind)
	assert.True(t, created.Temporary)
	assert.WithinDuration(t, created.BlockedAt.Add(2*time.Hour), created.ExpiresAt, time.Second)
	assert.True(t, f.engine.IsBlocked("198.51.100.23"))

	var blocks list[domain.BlockRecord]
	decode(t, f.do(t, fiber.MethodGet, "/blocks", nil), &blocks)
	require.Equal(t, 1, blocks.Count)
	assert.Equal(t, "credential stuffing", blocks.Items[0].Reason)

	assert.Equal(t, fiber.StatusNoContent, f.do(t, fiber.MethodDelete, "/blocks/198.51.100.23", nil).StatusCode)
	assert.False(t, f.engine.IsBlocked("198.51.100.23"))
	assert.Equal(t, fiber.StatusNotFound, f.do(t, fiber.MethodDelete, "/blocks/198.51.100.23", nil).StatusCode)
}

func TestCreateBlockHandler_Validation(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, fiber.StatusBadRequest, f.do(t, fiber.MethodPost, "/blocks", map[string]interface{}{"ip": "nope"}).StatusCode)
	assert.Equal(t, fiber.StatusBadRequest, f.do(t, fiber.MethodPost, "/blocks", map[string]interface{}{
		"ip":       "10.0.0.1",
		"duration": "forever",
	}).StatusCode)

	req := httptest.NewRequest(fiber.MethodPost, "/blocks", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDeleteBlockHandler_InvalidKind(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, fiber.StatusBadRequest, f.do(t, fiber.MethodDelete, "/blocks/10.0.0.1?kind=user", nil).StatusCode)
}

func TestListAuditEventsHandler(t *testing.T) {
	f := newFixture(t)
	f.audit.Log(auditlogs.SecurityEvent(audit.LevelWarn, auditlogs.ActionRequestBlocked, audit.ResultBlocked, &audit.Actor{IP: "10.0.0.1"}, 90))
	f.audit.Log(auditlogs.SecurityEvent(audit.LevelInfo, auditlogs.ActionRequestScored, audit.ResultSuccess, &audit.Actor{IP: "10.0.0.2"}, 20))

	var all list[audit.Event]
	decode(t, f.do(t, fiber.MethodGet, "/audit/events", nil), &all)
	assert.Equal(t, 2, all.Count)

	var blocked list[audit.Event]
	decode(t, f.do(t, fiber.MethodGet, "/audit/events?result=blocked&ip=10.0.0.1", nil), &blocked)
	require.Equal(t, 1, blocked.Count)
	assert.Equal(t, auditlogs.ActionRequestBlocked, blocked.Items[0].Action)

	assert.Equal(t, fiber.StatusBadRequest, f.do(t, fiber.MethodGet, "/audit/events?level=loud", nil).StatusCode)
}

func TestIncidentHandlers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.repo.SaveIncident(ctx, &domain.SecurityIncident{
		ID:          "INC-1",
		Timestamp:   now.Add(-time.Minute),
		Severity:    domain.SeverityHigh,
		Category:    "sql_injection",
		Actor:       domain.Actor{IP: "203.0.113.7"},
		ThreatScore: 90,
		Status:      domain.StatusDetected,
	}))
	require.NoError(t, f.repo.SaveIncident(ctx, &domain.SecurityIncident{
		ID:          "INC-2",
		Timestamp:   now,
		Severity:    domain.SeverityMedium,
		Category:    "rate_limit_exceeded",
		Actor:       domain.Actor{IP: "203.0.113.8"},
		ThreatScore: 60,
		Status:      domain.StatusDetected,
	}))

	var incidents list[domain.SecurityIncident]
	decode(t, f.do(t, fiber.MethodGet, "/incidents", nil), &incidents)
	require.Equal(t, 2, incidents.Count)
	assert.Equal(t, "INC-2", incidents.Items[0].ID)

	var high list[domain.SecurityIncident]
	decode(t, f.do(t, fiber.MethodGet, "/incidents?severity=high", nil), &high)
	require.Equal(t, 1, high.Count)
	assert.Equal(t, "INC-1", high.Items[0].ID)

	resp := f.do(t, fiber.MethodGet, "/incidents/INC-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var inc domain.SecurityIncident
	decode(t, resp, &inc)
	assert.Equal(t, 90, inc.ThreatScore)

	assert.Equal(t, fiber.StatusNotFound, f.do(t, fiber.MethodGet, "/incidents/INC-404", nil).StatusCode)
}

func TestGetProfileHandler(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, fiber.MethodGet, "/profiles/203.0.113.7", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var profile incident.ActorProfile
	decode(t, resp, &profile)
	assert.Equal(t, 2, profile.Incidents)

	assert.Equal(t, fiber.StatusNotFound, f.do(t, fiber.MethodGet, "/profiles/203.0.113.99", nil).StatusCode)
	assert.Equal(t, fiber.StatusBadRequest, f.do(t, fiber.MethodGet, "/profiles/not-an-ip", nil).StatusCode)
}

func TestListBreakersHandler(t *testing.T) {
	f := newFixture(t)
	f.breakers.GetOrCreate(breaker.Storage, nil)

	var breakers list[breaker.Snapshot]
	decode(t, f.do(t, fiber.MethodGet, "/breakers", nil), &breakers)
	require.NotZero(t, breakers.Count)
	names := make([]string, 0, breakers.Count)
	for _, b := range breakers.Items {
		names = append(names, b.Name)
	}
	assert.Contains(t, names, breaker.Storage)
}

func TestForwardedHandler(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"relayed", nil, fiber.StatusOK},
		{"breaker open", breaker.ErrOpen, fiber.StatusServiceUnavailable},
		{"transport error", errors.New("dial tcp: refused"), fiber.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(handlers.NewForwardedHandler(logger, stubForwarder{err: tt.err}).Handle)
			req := httptest.NewRequest(fiber.MethodGet, "/anything", nil)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
