package http

import (
	"net/url"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type deleteBlockHandler struct {
	logger *logrus.Logger
	blocks BlockManager
}

func NewDeleteBlockHandler(logger *logrus.Logger, blocks BlockManager) Handler {
	return &deleteBlockHandler{
		logger: logger,
		blocks: blocks,
	}
}

// Handle lifts a block. The kind query parameter selects ip (default) or fingerprint.
func (h *deleteBlockHandler) Handle(c *fiber.Ctx) error {
	subject, err := url.PathUnescape(c.Params("subject"))
	if err != nil || subject == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid subject"})
	}

	kind := domain.BlockKind(c.Query("kind", string(domain.BlockKindIP)))
	if kind != domain.BlockKindIP && kind != domain.BlockKindFingerprint {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "kind must be ip or fingerprint"})
	}

	removed, err := h.blocks.Unblock(c.Context(), kind, subject)
	if err != nil {
		h.logger.WithError(err).WithField("subject", subject).Error("failed to unblock")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": ErrInternalServer})
	}
	if !removed {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active block for subject"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
