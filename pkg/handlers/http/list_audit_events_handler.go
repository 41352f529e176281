package http

import (
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/request"
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/response"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type listAuditEventsHandler struct {
	logger *logrus.Logger
	audit  auditlogs.Service
}

func NewListAuditEventsHandler(logger *logrus.Logger, auditService auditlogs.Service) Handler {
	return &listAuditEventsHandler{
		logger: logger,
		audit:  auditService,
	}
}

// Handle returns audit events newest first, including events still buffered for storage.
func (h *listAuditEventsHandler) Handle(c *fiber.Ctx) error {
	var q request.AuditQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query parameters"})
	}
	if err := q.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	events, err := h.audit.Query(c.Context(), q.Filter(), q.Limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to query audit events")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": ErrInternalServer})
	}
	return c.Status(fiber.StatusOK).JSON(response.NewListOutput(events))
}
