package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const MetricsPath = "/metrics"

// MetricsServer exposes the private prometheus registry on its own port.
type MetricsServer struct {
	Router *fiber.App
	logger *logrus.Logger
	port   int
}

func NewMetricsServer(logger *logrus.Logger, port int, registry *prometheus.Registry) *MetricsServer {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry: registry,
	}))
	app.Get(MetricsPath, func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	})

	return &MetricsServer{
		Router: app,
		logger: logger,
		port:   port,
	}
}

func (s *MetricsServer) Run() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.WithField("addr", addr).Info("starting metrics server")
	return s.Router.Listen(addr)
}

func (s *MetricsServer) Shutdown() error {
	return s.Router.ShutdownWithTimeout(shutdownTimeout)
}
