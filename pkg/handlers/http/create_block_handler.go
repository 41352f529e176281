package http

import (
	"errors"

	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/request"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type createBlockHandler struct {
	logger *logrus.Logger
	blocks BlockManager
}

func NewCreateBlockHandler(logger *logrus.Logger, blocks BlockManager) Handler {
	return &createBlockHandler{
		logger: logger,
		blocks: blocks,
	}
}

func (h *createBlockHandler) Handle(c *fiber.Ctx) error {
	var req request.CreateBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidJsonPayload})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	record, err := h.blocks.BlockIP(c.Context(), req.IP, req.Reason, req.BlockDuration(), req.IsTemporary())
	if err != nil {
		if errors.Is(err, incident.ErrInvalidBlock) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.WithError(err).WithField("ip", req.IP).Error("failed to block ip")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": ErrInternalServer})
	}

	h.logger.WithFields(logrus.Fields{
		"ip":         record.Subject,
		"expires_at": record.ExpiresAt,
		"operator":   auditlogs.ActorFromCtx(c).UserID,
	}).Info("ip blocked by operator")
	return c.Status(fiber.StatusCreated).JSON(record)
}
