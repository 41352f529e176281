package http

import (
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type getProfileHandler struct {
	logger   *logrus.Logger
	profiles ProfileReader
}

func NewGetProfileHandler(logger *logrus.Logger, profiles ProfileReader) Handler {
	return &getProfileHandler{
		logger:   logger,
		profiles: profiles,
	}
}

func (h *getProfileHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip"})
	}
	profile, ok := h.profiles.Profile(ip)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no profile for ip"})
	}
	return c.Status(fiber.StatusOK).JSON(profile)
}
