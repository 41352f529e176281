package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/config"
	"github.com/NeuralTrust/TrustGuard/pkg/dependency_container"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auth/jwt"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/database"
	infraLogger "github.com/NeuralTrust/TrustGuard/pkg/infra/logger"
	_ "github.com/NeuralTrust/TrustGuard/pkg/infra/migrations"
	"github.com/NeuralTrust/TrustGuard/pkg/server"
	"github.com/NeuralTrust/TrustGuard/pkg/version"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	rehydrateTimeout = 30 * time.Second
	drainTimeout     = 15 * time.Second
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger, logCloser, err := infraLogger.NewLogger(infraLogger.Options{
		Level: os.Getenv("LOG_LEVEL"),
		File:  os.Getenv("LOG_FILE"),
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logCloser.Close()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			logger.Fatalf("failed to issue admin token: %v", err)
		}
		return
	}

	var db *database.DB
	if cfg.Database.Enabled() {
		db, err = database.NewDB(logger, &cfg.Database)
		if err != nil {
			logger.Fatalf("failed to initialize database: %v", err)
		}
		defer db.Close()
	} else {
		logger.Warn("database is not configured, incidents and audit events are kept in memory")
	}

	container, err := dependency_container.NewContainer(dependency_container.ContainerDI{
		Cfg:    cfg,
		Logger: logger,
		DB:     db,
	})
	if err != nil {
		logger.Fatalf("failed to initialize dependencies: %v", err)
	}
	defer container.Close()

	rctx, cancel := context.WithTimeout(context.Background(), rehydrateTimeout)
	restored, err := container.Engine.Rehydrate(rctx)
	cancel()
	if err != nil {
		logger.WithError(err).Error("failed to restore active blocks")
	} else {
		logger.WithField("blocks", restored).Info("active blocks restored")
	}

	servers := []server.Server{
		server.NewAdminServer(server.AdminServerDI{
			Config:  cfg,
			Logger:  logger,
			Routers: container.AdminRouters,
		}),
		server.NewProxyServer(server.ProxyServerDI{
			Config:  cfg,
			Logger:  logger,
			Routers: container.ProxyRouters,
		}),
	}
	if container.Metrics != nil {
		servers = append(servers, server.NewMetricsServer(logger, cfg.Server.MetricsPort, container.Metrics.Registry()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return container.History.Run(gctx) })
	g.Go(func() error { return container.AuditLogsService.Run(gctx) })
	g.Go(func() error { return container.Engine.Run(gctx) })
	if container.MemoryStore != nil {
		g.Go(func() error { return container.MemoryStore.Run(gctx, cfg.RateLimit.SweepInterval) })
	}
	if container.RedisListener != nil {
		g.Go(func() error { return container.RedisListener.Listen(gctx, container.Engine.ApplyPeerEvent) })
	}
	for _, srv := range servers {
		g.Go(srv.Run)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown())
		}
		return errors.Join(errs...)
	})

	logger.WithFields(logrus.Fields{
		"app":     version.AppName,
		"version": version.Version,
	}).Info("trustguard started")

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("trustguard stopped with error")
	}

	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := container.AuditLogsService.Close(dctx); err != nil {
		logger.WithError(err).Error("audit events lost on shutdown")
	}
	logger.WithField("persisted_writes", container.Engine.RetryPending(dctx)).Info("trustguard stopped")
}

// issueToken prints an admin bearer token: guard token <operator> [ttl].
func issueToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: guard token <operator> [ttl]")
	}
	var ttl time.Duration
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[1], err)
		}
		ttl = d
	}
	token, err := jwt.NewJwtManager(cfg.Server.SecretKey).CreateToken(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
