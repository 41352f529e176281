package http

import (
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/response"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type listBreakersHandler struct {
	logger   *logrus.Logger
	breakers BreakerLister
}

func NewListBreakersHandler(logger *logrus.Logger, breakers BreakerLister) Handler {
	return &listBreakersHandler{
		logger:   logger,
		breakers: breakers,
	}
}

func (h *listBreakersHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(response.NewListOutput(h.breakers.Snapshot()))
}
