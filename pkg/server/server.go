package server

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/config"
	"github.com/NeuralTrust/TrustGuard/pkg/server/router"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 60 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Server interface defines the common behavior for all servers
type Server interface {
	Run() error
	Shutdown() error
}

type BaseServer struct {
	Config *config.Config
	Logger *logrus.Logger
	Router *fiber.App
}

func NewBaseServer(cfg *config.Config, logger *logrus.Logger) *BaseServer {
	readTimeout := cfg.Server.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	r := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReduceMemoryUsage:     true,
		Network:               fiber.NetworkTCP,
		EnablePrintRoutes:     false,
		BodyLimit:             8 * 1024 * 1024,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           120 * time.Second,
		Concurrency:           16384,
	})

	r.Server().MaxConnsPerIP = 1024
	r.Server().ReadBufferSize = 8192
	r.Server().WriteBufferSize = 8192
	r.Server().NoDefaultServerHeader = true
	r.Server().NoDefaultDate = true

	return &BaseServer{
		Config: cfg,
		Logger: logger,
		Router: r,
	}
}

func (s *BaseServer) WithRouters(routers ...router.ServerRouter) *BaseServer {
	for _, r := range routers {
		err := r.BuildRoutes(s.Router)
		if err != nil {
			s.Logger.WithError(err).Error("failed to build routes")
		}
	}
	return s
}

// listen serves on port, over TLS when server.tls is enabled.
func (s *BaseServer) listen(name string, port int) error {
	addr := fmt.Sprintf(":%d", port)
	tlsConfig, err := config.BuildTLSConfig(s.Config.Server.TLS)
	if err != nil {
		return fmt.Errorf("%s server tls: %w", name, err)
	}
	if tlsConfig == nil {
		s.Logger.WithField("addr", addr).Infof("starting %s server", name)
		return s.Router.Listen(addr)
	}

	ln, err := tls.Listen(fiber.NetworkTCP, addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("%s server listen: %w", name, err)
	}
	s.Logger.WithFields(logrus.Fields{
		"addr": addr,
		"mtls": tlsConfig.ClientAuth == tls.RequireAndVerifyClientCert,
	}).Infof("starting %s server with tls", name)
	return s.Router.Listener(ln)
}

func (s *BaseServer) Shutdown() error {
	return s.Router.ShutdownWithTimeout(shutdownTimeout)
}
