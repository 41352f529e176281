package http

import (
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/request"
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/response"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type listIncidentsHandler struct {
	logger *logrus.Logger
	finder domain.Finder
}

func NewListIncidentsHandler(logger *logrus.Logger, finder domain.Finder) Handler {
	return &listIncidentsHandler{
		logger: logger,
		finder: finder,
	}
}

func (h *listIncidentsHandler) Handle(c *fiber.Ctx) error {
	var q request.IncidentQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query parameters"})
	}
	if err := q.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	incidents, err := h.finder.ListIncidents(c.Context(), q.Filter(), q.Limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to list incidents")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": ErrInternalServer})
	}
	return c.Status(fiber.StatusOK).JSON(response.NewListOutput(incidents))
}
