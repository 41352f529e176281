package router

import (
	"net/http"
	"time"

	handlers "github.com/NeuralTrust/TrustGuard/pkg/handlers/http"
	"github.com/NeuralTrust/TrustGuard/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
)

const (
	HealthPath = "/__/health"
	PingPath   = "/__/ping"
)

type proxyRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    handlers.HandlerTransport
}

// NewProxyRouter mounts the internal endpoints, then the middleware chain in order, then the
// forwarder as the catch-all.
func NewProxyRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &proxyRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *proxyRouter) BuildRoutes(router *fiber.App) error {
	handlerTransport, ok := r.handlerTransport.GetTransport().(*handlers.HandlerTransportDTO)
	if !ok {
		return ErrInvalidHandlerTransport
	}

	router.Get(HealthPath, func(ctx *fiber.Ctx) error {
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	router.Get(PingPath, func(ctx *fiber.Ctx) error {
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"message": "pong",
		})
	})

	if mws := r.middlewareTransport.GetMiddlewares(); len(mws) > 0 {
		router.Use(mws...)
	}
	router.Use(handlerTransport.ForwardedHandler.Handle)
	return nil
}
