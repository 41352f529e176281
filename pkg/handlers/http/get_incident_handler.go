package http

import (
	"github.com/NeuralTrust/TrustGuard/pkg/domain"
	incidentdomain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type getIncidentHandler struct {
	logger *logrus.Logger
	finder incidentdomain.Finder
}

func NewGetIncidentHandler(logger *logrus.Logger, finder incidentdomain.Finder) Handler {
	return &getIncidentHandler{
		logger: logger,
		finder: finder,
	}
}

func (h *getIncidentHandler) Handle(c *fiber.Ctx) error {
	id := c.Params("incident_id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "incident id is required"})
	}

	inc, err := h.finder.FindIncident(c.Context(), id)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.WithError(err).WithField("incident_id", id).Error("failed to get incident")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": ErrInternalServer})
	}
	return c.Status(fiber.StatusOK).JSON(inc)
}
