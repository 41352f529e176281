package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/guard"
	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/common"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	rateLimitScore  = 60
	rateLimitSource = "rate_limit"
)

type RateLimitOptions struct {
	Rules []ratelimit.Rule
	// Report forwards the first denial of each window to incident response.
	Report bool
}

type rateLimitMiddleware struct {
	logger    *logrus.Logger
	limiter   *ratelimit.Limiter
	responder incident.Responder
	audit     auditlogs.Service
	opts      RateLimitOptions
}

func NewRateLimitMiddleware(
	logger *logrus.Logger,
	limiter *ratelimit.Limiter,
	responder incident.Responder,
	auditService auditlogs.Service,
	opts RateLimitOptions,
) Middleware {
	return &rateLimitMiddleware{
		logger:    logger,
		limiter:   limiter,
		responder: responder,
		audit:     auditService,
		opts:      opts,
	}
}

func (m *rateLimitMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, ok := DescriptorFromCtx(c)
		if !ok {
			d = guard.BuildDescriptor(rawRequest(c, time.Now()))
		}

		var (
			tightest *ratelimit.Result
			denied   *ratelimit.Rule
			blocking ratelimit.Result
		)
		for i := range m.opts.Rules {
			rule := m.opts.Rules[i]
			if !matchesRoute(rule.Route, c.Path()) {
				continue
			}
			res, err := m.limiter.Allow(c.UserContext(), d.ClientIP, rule)
			if err != nil {
				m.logger.WithError(err).WithField("rule", rule.Name).Warn("rate limit check failed, allowing request")
				continue
			}
			if tightest == nil || res.Remaining < tightest.Remaining {
				r := res
				tightest = &r
			}
			if !res.Allowed && denied == nil {
				denied = &rule
				blocking = res
			}
		}

		if tightest != nil {
			c.Set(common.RateLimitLimitHeader, strconv.FormatInt(tightest.Limit, 10))
			c.Set(common.RateLimitRemainingHeader, strconv.FormatInt(tightest.Remaining, 10))
			c.Set(common.RateLimitResetHeader, strconv.FormatInt(ceilSeconds(tightest.ResetAfter.Milliseconds()), 10))
		}
		if denied == nil {
			return c.Next()
		}

		if blocking.FirstDenied() {
			m.report(d, *denied)
		}
		c.Set(common.RetryAfterHeader, strconv.FormatInt(ceilSeconds(blocking.ResetAfter.Milliseconds()), 10))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "rate limit exceeded",
			"rule":  denied.Name,
		})
	}
}

func (m *rateLimitMiddleware) report(d threat.RequestDescriptor, rule ratelimit.Rule) {
	factor := "rate limit exceeded: " + rule.Name
	evt := auditlogs.SecurityEvent(audit.LevelWarn, auditlogs.ActionRequestRateLimited, audit.ResultBlocked, &audit.Actor{
		IP:          d.ClientIP,
		Fingerprint: d.Fingerprint,
		UserID:      d.UserID,
	}, rateLimitScore)
	evt.Resource = d.Method + " " + d.Path()
	evt.Details["rule"] = rule.Name
	evt.Details["limit"] = rule.Limit
	evt.Details["window"] = rule.Window.String()
	evt.Tags = []string{auditlogs.TagRateLimit}

	if m.opts.Report && m.responder != nil {
		id := m.responder.NewIncidentID()
		evt.Details["correlation_id"] = id
		if !m.responder.Submit(incident.Detection{
			Category:      threat.CategoryRateLimit,
			Severity:      domain.SeverityMedium,
			Score:         rateLimitScore,
			Descriptor:    d,
			Factors:       []string{factor},
			CorrelationID: id,
			Source:        rateLimitSource,
		}) {
			m.logger.WithField("client_ip", d.ClientIP).Warn("rate limit detection not forwarded to incident response")
		}
	}
	if m.audit != nil {
		m.audit.Log(evt)
	}
}

// matchesRoute treats an empty route or "*" as a catch-all and anything else as a path prefix.
func matchesRoute(route, path string) bool {
	if route == "" || route == "*" {
		return true
	}
	return strings.HasPrefix(path, route)
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
