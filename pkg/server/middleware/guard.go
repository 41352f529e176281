package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/guard"
	"github.com/NeuralTrust/TrustGuard/pkg/common"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type guardMiddleware struct {
	logger *logrus.Logger
	guard  guard.Guard
}

func NewGuardMiddleware(logger *logrus.Logger, g guard.Guard) Middleware {
	return &guardMiddleware{
		logger: logger,
		guard:  g,
	}
}

func (m *guardMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		d := guard.BuildDescriptor(rawRequest(c, start))
		decision := m.guard.Evaluate(c.UserContext(), d)

		c.Locals(string(common.StartTimeContextKey), start)
		c.Locals(string(common.DescriptorContextKey), decision.Descriptor)
		c.Locals(string(common.DecisionContextKey), decision)
		c.Locals(string(common.ClientIPContextKey), d.ClientIP)
		c.Locals(string(common.FingerprintContextKey), d.Fingerprint)
		c.Locals(string(common.UserIDContextKey), d.UserID)

		c.Set(common.ThreatScoreHeader, strconv.Itoa(decision.Score.Score))
		c.Set(common.ThreatDecisionHeader, string(decision.Recommendation))
		if decision.CorrelationID != "" {
			c.Locals(string(common.CorrelationIDContextKey), decision.CorrelationID)
			c.Set(common.CorrelationIDHeader, decision.CorrelationID)
		}

		if rejection := decision.Rejection(); rejection != nil {
			m.logger.WithFields(logrus.Fields{
				"client_ip":      d.ClientIP,
				"path":           c.Path(),
				"score":          rejection.Score,
				"correlation_id": rejection.CorrelationID,
			}).Info("request blocked")
			err := c.Status(fiber.StatusForbidden).JSON(rejection)
			m.guard.Complete(d, time.Since(start), fiber.StatusForbidden)
			return err
		}

		err := c.Next()
		m.guard.Complete(d, time.Since(start), responseStatus(c, err))
		return err
	}
}

// DescriptorFromCtx returns the descriptor the guard middleware stored for this request.
func DescriptorFromCtx(c *fiber.Ctx) (threat.RequestDescriptor, bool) {
	d, ok := c.Locals(string(common.DescriptorContextKey)).(threat.RequestDescriptor)
	return d, ok
}

func rawRequest(c *fiber.Ctx, receivedAt time.Time) guard.RawRequest {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	remote := ""
	if addr := c.Context().RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return guard.RawRequest{
		RemoteAddr:    remote,
		Method:        c.Method(),
		URI:           string(c.Request().RequestURI()),
		Headers:       headers,
		ContentLength: int64(c.Request().Header.ContentLength()),
		ReceivedAt:    receivedAt,
	}
}

func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
