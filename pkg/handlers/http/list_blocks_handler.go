package http

import (
	"github.com/NeuralTrust/TrustGuard/pkg/handlers/http/response"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type listBlocksHandler struct {
	logger *logrus.Logger
	blocks BlockManager
}

func NewListBlocksHandler(logger *logrus.Logger, blocks BlockManager) Handler {
	return &listBlocksHandler{
		logger: logger,
		blocks: blocks,
	}
}

func (h *listBlocksHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(response.NewListOutput(h.blocks.ActiveBlocks()))
}
