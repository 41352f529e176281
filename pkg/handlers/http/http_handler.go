package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport interface {
	GetTransport() HandlerTransport
}

type HandlerTransportDTO struct {
	// Proxy
	ForwardedHandler Handler

	// System
	HealthHandler     Handler
	GetVersionHandler Handler

	// Audit
	ListAuditEventsHandler Handler

	// Blocklist
	ListBlocksHandler  Handler
	CreateBlockHandler Handler
	DeleteBlockHandler Handler

	// Incidents
	ListIncidentsHandler Handler
	GetIncidentHandler   Handler
	GetProfileHandler    Handler

	// Breakers
	ListBreakersHandler Handler
}

func (t *HandlerTransportDTO) GetTransport() HandlerTransport {
	return t
}
