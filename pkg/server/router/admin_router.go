package router

import (
	"errors"

	handlers "github.com/NeuralTrust/TrustGuard/pkg/handlers/http"
	"github.com/NeuralTrust/TrustGuard/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
)

const (
	AdminHealthPath  = "/health"
	AdminVersionPath = "/version"
)

var (
	ErrInvalidHandlerTransport = errors.New("invalid handler transport")
)

type adminRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    handlers.HandlerTransport
}

func NewAdminRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &adminRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *adminRouter) BuildRoutes(router *fiber.App) error {
	handlerTransport, ok := r.handlerTransport.GetTransport().(*handlers.HandlerTransportDTO)
	if !ok {
		return ErrInvalidHandlerTransport
	}

	router.Get(AdminHealthPath, handlerTransport.HealthHandler.Handle)
	router.Get(AdminVersionPath, handlerTransport.GetVersionHandler.Handle)

	v1 := router.Group("/api/v1")
	{
		if mws := r.middlewareTransport.GetMiddlewares(); len(mws) > 0 {
			v1.Use(mws...)
		}

		v1.Get("/audit/events", handlerTransport.ListAuditEventsHandler.Handle)

		blocks := v1.Group("/blocks")
		{
			blocks.Get("", handlerTransport.ListBlocksHandler.Handle)
			blocks.Post("", handlerTransport.CreateBlockHandler.Handle)
			blocks.Delete("/:subject", handlerTransport.DeleteBlockHandler.Handle)
		}

		incidents := v1.Group("/incidents")
		{
			incidents.Get("", handlerTransport.ListIncidentsHandler.Handle)
			incidents.Get("/:incident_id", handlerTransport.GetIncidentHandler.Handle)
		}

		v1.Get("/profiles/:ip", handlerTransport.GetProfileHandler.Handle)
		v1.Get("/breakers", handlerTransport.ListBreakersHandler.Handle)
	}
	return nil
}
