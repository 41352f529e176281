package http

import (
	"context"
	"sort"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 2 * time.Second

type healthHandler struct {
	logger   *logrus.Logger
	checks   map[string]Pinger
	breakers BreakerLister
}

// NewHealthHandler reports every dependency check and the breaker states. Nil checks are skipped so
// optional backends can be passed unconditionally.
func NewHealthHandler(logger *logrus.Logger, breakers BreakerLister, checks map[string]Pinger) Handler {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &healthHandler{
		logger:   logger,
		checks:   active,
		breakers: breakers,
	}
}

func (h *healthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	checks := make(fiber.Map, len(names))
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("health check failed")
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	var open []string
	if h.breakers != nil {
		for _, s := range h.breakers.Snapshot() {
			if s.State != breaker.StateClosed {
				open = append(open, s.Name)
			}
		}
	}
	if len(open) > 0 {
		status = "degraded"
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":        status,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"checks":        checks,
		"open_breakers": open,
	})
}
