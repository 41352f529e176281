package http

import (
	"errors"

	"github.com/NeuralTrust/TrustGuard/pkg/common"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/httpx"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type forwardedHandler struct {
	logger    *logrus.Logger
	forwarder httpx.Forwarder
}

// NewForwardedHandler relays admitted requests to the protected upstream.
func NewForwardedHandler(logger *logrus.Logger, forwarder httpx.Forwarder) Handler {
	return &forwardedHandler{
		logger:    logger,
		forwarder: forwarder,
	}
}

func (h *forwardedHandler) Handle(c *fiber.Ctx) error {
	clientIP, ok := c.Locals(string(common.ClientIPContextKey)).(string)
	if !ok || clientIP == "" {
		clientIP = c.IP()
	}

	err := h.forwarder.Forward(c.UserContext(), c.Request(), c.Response(), clientIP)
	if err == nil {
		return nil
	}

	h.logger.WithError(err).WithFields(logrus.Fields{
		"client_ip": clientIP,
		"path":      c.Path(),
	}).Warn("upstream request failed")
	if errors.Is(err, breaker.ErrOpen) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "upstream unavailable"})
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream request failed"})
}
