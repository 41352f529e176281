package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/guard"
	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/common"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auth/jwt"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/ratelimit"
	"github.com/NeuralTrust/TrustGuard/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type completion struct {
	descriptor threat.RequestDescriptor
	status     int
}

type stubGuard struct {
	mu        sync.Mutex
	decision  guard.Decision
	seen      []threat.RequestDescriptor
	completed []completion
}

func (g *stubGuard) Evaluate(_ context.Context, d threat.RequestDescriptor) guard.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, d)
	out := g.decision
	out.Descriptor = d
	return out
}

func (g *stubGuard) Complete(d threat.RequestDescriptor, _ time.Duration, statusCode int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, completion{descriptor: d, status: statusCode})
}

type stubResponder struct {
	mu        sync.Mutex
	submitted []incident.Detection
}

func (r *stubResponder) NewIncidentID() string { return "INC-test" }
func (r *stubResponder) Submit(det incident.Detection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, det)
	return true
}
func (r *stubResponder) IsBlocked(string) bool     { return false }
func (r *stubResponder) IsQuarantined(string) bool { return false }
func (r *stubResponder) IsMonitored(string) bool   { return false }

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

func newGuardApp(g guard.Guard, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(middleware.NewGuardMiddleware(quietLogger(), g).Middleware())
	app.Get("/*", handler)
	return app
}

func TestGuardMiddleware_AllowsAndRecordsOutcome(t *testing.T) {
	g := &stubGuard{decision: guard.Decision{
		Recommendation: threat.Allow,
		Score:          threat.Score{Score: 12, Recommendation: threat.Allow},
	}}
	var localIP string
	app := newGuardApp(g, func(c *fiber.Ctx) error {
		localIP, _ = c.Locals(string(common.ClientIPContextKey)).(string)
		_, ok := middleware.DescriptorFromCtx(c)
		assert.True(t, ok)
		return c.SendString("ok")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/products?id=7", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "12", resp.Header.Get(common.ThreatScoreHeader))
	assert.Equal(t, string(threat.Allow), resp.Header.Get(common.ThreatDecisionHeader))
	assert.Empty(t, resp.Header.Get(common.CorrelationIDHeader))
	assert.Equal(t, "203.0.113.7", localIP)

	require.Len(t, g.seen, 1)
	assert.Equal(t, "/products?id=7", g.seen[0].Endpoint)
	assert.Equal(t, "Mozilla/5.0", g.seen[0].UserAgent)
	require.Len(t, g.completed, 1)
	assert.Equal(t, fiber.StatusOK, g.completed[0].status)
}

func TestGuardMiddleware_BlockRejectsWithPayload(t *testing.T) {
	g := &stubGuard{decision: guard.Decision{
		Recommendation: threat.Block,
		Score:          threat.Score{Score: 95, Recommendation: threat.Block},
		Reason:         guard.ReasonThreatScore,
		CorrelationID:  "INC-42",
	}}
	called := false
	app := newGuardApp(g, func(c *fiber.Ctx) error {
		called = true
		return c.SendString("ok")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/search?q=1'+UNION+SELECT", nil)
	req.Header.Set("X-Real-IP", "198.51.100.9")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.False(t, called)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "INC-42", resp.Header.Get(common.CorrelationIDHeader))

	var body guard.Rejection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, guard.ReasonThreatScore, body.Reason)
	assert.Equal(t, 95, body.Score)
	assert.Equal(t, "INC-42", body.CorrelationID)

	require.Len(t, g.completed, 1)
	assert.Equal(t, fiber.StatusForbidden, g.completed[0].status)
}

func TestGuardMiddleware_HandlerErrorStatusIsRecorded(t *testing.T) {
	g := &stubGuard{decision: guard.Decision{Recommendation: threat.Allow}}
	app := newGuardApp(g, func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Len(t, g.completed, 1)
	assert.Equal(t, fiber.StatusNotFound, g.completed[0].status)
}

func newRateLimitApp(responder incident.Responder, auditService auditlogs.Service, rules ...ratelimit.Rule) *fiber.App {
	logger := quietLogger()
	breakers := breaker.NewRegistry(logger, metrics.NewNopSink(), breaker.DefaultConfig())
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), breakers)
	app := fiber.New()
	app.Use(middleware.NewRateLimitMiddleware(logger, limiter, responder, auditService, middleware.RateLimitOptions{
		Rules:  rules,
		Report: true,
	}).Middleware())
	app.Get("/*", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func rateLimitedGet(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRateLimitMiddleware_DeniesOverLimitAndReportsOnce(t *testing.T) {
	responder := &stubResponder{}
	auditService := &fakeAudit{}
	app := newRateLimitApp(responder, auditService, ratelimit.Rule{
		Name:   "login",
		Route:  "/login",
		Limit:  2,
		Window: time.Minute,
	})

	first := rateLimitedGet(t, app, "/login")
	assert.Equal(t, fiber.StatusOK, first.StatusCode)
	assert.Equal(t, "2", first.Header.Get(common.RateLimitLimitHeader))
	assert.Equal(t, "1", first.Header.Get(common.RateLimitRemainingHeader))

	assert.Equal(t, fiber.StatusOK, rateLimitedGet(t, app, "/login").StatusCode)

	denied := rateLimitedGet(t, app, "/login")
	assert.Equal(t, fiber.StatusTooManyRequests, denied.StatusCode)
	assert.Equal(t, "0", denied.Header.Get(common.RateLimitRemainingHeader))
	assert.NotEmpty(t, denied.Header.Get(common.RetryAfterHeader))

	assert.Equal(t, fiber.StatusTooManyRequests, rateLimitedGet(t, app, "/login").StatusCode)

	require.Len(t, responder.submitted, 1)
	det := responder.submitted[0]
	assert.Equal(t, threat.CategoryRateLimit, det.Category)
	assert.Equal(t, "203.0.113.50", det.Descriptor.ClientIP)
	assert.Equal(t, "INC-test", det.CorrelationID)
	assert.Equal(t, "rate_limit", det.Source)

	require.Len(t, auditService.events, 1)
	assert.Equal(t, auditlogs.ActionRequestRateLimited, auditService.events[0].Action)
	assert.Equal(t, audit.ResultBlocked, auditService.events[0].Result)
}

func TestRateLimitMiddleware_UnmatchedRouteIsUntouched(t *testing.T) {
	app := newRateLimitApp(&stubResponder{}, &fakeAudit{}, ratelimit.Rule{
		Name:   "login",
		Route:  "/login",
		Limit:  1,
		Window: time.Minute,
	})

	for i := 0; i < 3; i++ {
		resp := rateLimitedGet(t, app, "/products")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(common.RateLimitLimitHeader))
	}
}

func TestRateLimitMiddleware_CatchAllRule(t *testing.T) {
	app := newRateLimitApp(nil, nil, ratelimit.Rule{Name: "global", Route: "*", Limit: 1, Window: time.Minute})

	assert.Equal(t, fiber.StatusOK, rateLimitedGet(t, app, "/a").StatusCode)
	assert.Equal(t, fiber.StatusTooManyRequests, rateLimitedGet(t, app, "/b").StatusCode)
}

func TestPanicRecoverMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.NewPanicRecoverMiddleware(quietLogger()).Middleware())
	app.Get("/boom", func(c *fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestAdminAuthMiddleware(t *testing.T) {
	manager := jwt.NewJwtManager("admin-secret")
	token, err := manager.CreateToken("alice", time.Hour)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(middleware.NewAdminAuthMiddleware(quietLogger(), manager, "/health").Middleware())
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("up") })
	app.Get("/blocks", func(c *fiber.Ctx) error {
		operator, _ := c.Locals(string(common.OperatorContextKey)).(string)
		return c.SendString(operator)
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"skip path", "/health", "", fiber.StatusOK},
		{"missing header", "/blocks", "", fiber.StatusUnauthorized},
		{"wrong scheme", "/blocks", "Basic abc", fiber.StatusUnauthorized},
		{"empty token", "/blocks", "Bearer ", fiber.StatusUnauthorized},
		{"bad token", "/blocks", "Bearer a.b.c", fiber.StatusUnauthorized},
		{"valid token", "/blocks", "Bearer " + token, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.name == "valid token" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, "alice", string(body))
			}
		})
	}
}
