package dependency_container

import (
	"fmt"
	"os"

	"github.com/NeuralTrust/TrustGuard/pkg/app/guard"
	"github.com/NeuralTrust/TrustGuard/pkg/app/history"
	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/app/scorer"
	"github.com/NeuralTrust/TrustGuard/pkg/config"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	incidentdomain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	handlers "github.com/NeuralTrust/TrustGuard/pkg/handlers/http"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/alerting"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auth/jwt"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/cache"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/database"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/fingerprint"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/httpx"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/prometheus"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/ratelimit"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/repository"
	"github.com/NeuralTrust/TrustGuard/pkg/server/middleware"
	"github.com/NeuralTrust/TrustGuard/pkg/server/router"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Container struct {
	Config *config.Config
	Logger *logrus.Logger

	DB             *database.DB
	Cache          cache.Client
	RedisListener  cache.EventListener
	RedisPublisher cache.EventPublisher

	Metrics       *prometheus.Metrics
	MetricsWorker metrics.Worker
	Sink          metrics.Sink
	Breakers      *breaker.Registry
	Notifier      alerting.Notifier

	AuditLogsService auditlogs.Service
	History          *history.Store
	Engine           *incident.Engine
	Guard            guard.Guard
	MemoryStore      *ratelimit.MemoryStore
	Limiter          *ratelimit.Limiter
	Forwarder        httpx.Forwarder
	JWTManager       jwt.Manager

	PanicRecoverMiddleware middleware.Middleware
	GuardMiddleware        middleware.Middleware
	RateLimitMiddleware    middleware.Middleware
	AdminAuthMiddleware    middleware.Middleware

	HandlerTransport handlers.HandlerTransport
	AdminRouters     []router.ServerRouter
	ProxyRouters     []router.ServerRouter
}

// ContainerDI holds what main builds before the container. DB is nil when no database
// is configured.
type ContainerDI struct {
	Cfg    *config.Config
	Logger *logrus.Logger
	DB     *database.DB
}

type repositories struct {
	incidents incidentdomain.Repository
	finder    incidentdomain.Finder
	audit     audit.Repository
}

func NewContainer(di ContainerDI) (*Container, error) {
	cfg, logger := di.Cfg, di.Logger
	c := &Container{
		Config: cfg,
		Logger: logger,
		DB:     di.DB,
	}

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	// metrics
	c.Sink = metrics.NewNopSink()
	if cfg.Metrics.Enabled {
		c.Metrics = prometheus.New(prometheus.MetricsConfig{
			EnableProcess:   cfg.Metrics.EnableProcess,
			EnableScoreHist: cfg.Metrics.EnableScoreHist,
		})
		c.MetricsWorker = metrics.NewWorker(logger, c.Metrics, cfg.Metrics.QueueSize)
		c.MetricsWorker.StartWorkers(cfg.Metrics.Workers)
		c.Sink = c.MetricsWorker
	}

	// breakers
	c.Breakers = breaker.NewRegistry(logger, c.Sink, cfg.Breaker.Defaults)
	for name, override := range cfg.Breaker.Overrides {
		o := override
		c.Breakers.GetOrCreate(name, &o)
	}

	// storage
	repos := newRepositories(cfg, di.DB)

	// redis
	if cfg.Redis.Enabled() {
		cacheClient, err := cache.NewClient(cache.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		}, logger)
		if err != nil {
			return nil, err
		}
		c.Cache = cacheClient
		c.RedisPublisher = cache.NewRedisEventPublisher(cacheClient, cache.BlocklistChannel, instanceID)
		c.RedisListener = cache.NewRedisEventListener(logger, cacheClient, cache.BlocklistChannel, instanceID)
	} else {
		logger.Warn("redis is not configured, blocklist changes stay local to this instance")
	}

	// alerting
	notifier, err := alerting.NewFactory(logger).Build(cfg.Alerting.Channels)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Notifier = notifier

	// services
	c.AuditLogsService = auditlogs.NewService(logger, repos.audit, c.Breakers, c.Sink, cfg.Audit.Config)
	c.Breakers.OnStateChange(auditlogs.BreakerStateListener(c.AuditLogsService))
	c.History = history.NewStore(logger, cfg.History)

	deps := incident.Deps{
		Logger:     logger,
		Repository: repos.incidents,
		Breakers:   c.Breakers,
		Notifier:   c.Notifier,
		Audit:      c.AuditLogsService,
		Sink:       c.Sink,
		History:    c.History,
		Publisher:  c.RedisPublisher,
	}
	if c.Cache != nil {
		deps.Fingerprints = fingerprint.NewTracker(c.Cache)
	}
	c.Engine = incident.NewEngine(cfg.Incident, deps)
	c.Guard = guard.New(logger, cfg.Guard, scorer.New(), c.History, c.Engine, c.AuditLogsService, c.Sink)

	// rate limiting
	var store ratelimit.CounterStore
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		store = ratelimit.NewRedisStore(c.Cache.RedisClient())
	} else {
		c.MemoryStore = ratelimit.NewMemoryStore()
		store = c.MemoryStore
	}
	c.Limiter = ratelimit.NewLimiter(store, c.Breakers)

	// upstream
	if cfg.Server.UpstreamURL != "" {
		fwd, err := httpx.NewForwarder(httpx.ForwarderOptions{
			UpstreamURL: cfg.Server.UpstreamURL,
			Timeout:     cfg.Server.UpstreamTimeout,
		}, c.Breakers)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Forwarder = fwd
	} else {
		logger.Warn("server.upstream_url is empty, the proxy answers 502 for every forwarded request")
		c.Forwarder = httpx.NewDisabledForwarder()
	}

	// middleware
	c.PanicRecoverMiddleware = middleware.NewPanicRecoverMiddleware(logger)
	c.GuardMiddleware = middleware.NewGuardMiddleware(logger, c.Guard)
	if cfg.RateLimit.Enabled && len(cfg.RateLimit.Rules) > 0 {
		c.RateLimitMiddleware = middleware.NewRateLimitMiddleware(
			logger, c.Limiter, c.Engine, c.AuditLogsService,
			middleware.RateLimitOptions{Rules: cfg.RateLimit.Rules, Report: cfg.RateLimit.Report},
		)
	}
	if cfg.Server.SecretKey != "" {
		c.JWTManager = jwt.NewJwtManager(cfg.Server.SecretKey)
		c.AdminAuthMiddleware = middleware.NewAdminAuthMiddleware(logger, c.JWTManager)
	} else {
		logger.Warn("server.secret_key is empty, the admin api is served without authentication")
	}

	// handlers
	handlerTransport := &handlers.HandlerTransportDTO{
		ForwardedHandler:       handlers.NewForwardedHandler(logger, c.Forwarder),
		HealthHandler:          handlers.NewHealthHandler(logger, c.Breakers, c.healthChecks()),
		GetVersionHandler:      handlers.NewGetVersionHandler(logger),
		ListAuditEventsHandler: handlers.NewListAuditEventsHandler(logger, c.AuditLogsService),
		ListBlocksHandler:      handlers.NewListBlocksHandler(logger, c.Engine),
		CreateBlockHandler:     handlers.NewCreateBlockHandler(logger, c.Engine),
		DeleteBlockHandler:     handlers.NewDeleteBlockHandler(logger, c.Engine),
		ListIncidentsHandler:   handlers.NewListIncidentsHandler(logger, repos.finder),
		GetIncidentHandler:     handlers.NewGetIncidentHandler(logger, repos.finder),
		GetProfileHandler:      handlers.NewGetProfileHandler(logger, c.Engine),
		ListBreakersHandler:    handlers.NewListBreakersHandler(logger, c.Breakers),
	}
	c.HandlerTransport = handlerTransport

	// routers
	adminMiddlewares := middleware.NewTransport(c.PanicRecoverMiddleware)
	if c.AdminAuthMiddleware != nil {
		adminMiddlewares.RegisterMiddleware(c.AdminAuthMiddleware)
	}
	proxyMiddlewares := middleware.NewTransport(c.PanicRecoverMiddleware, c.GuardMiddleware)
	if c.RateLimitMiddleware != nil {
		proxyMiddlewares.RegisterMiddleware(c.RateLimitMiddleware)
	}
	c.AdminRouters = []router.ServerRouter{router.NewAdminRouter(adminMiddlewares, handlerTransport)}
	c.ProxyRouters = []router.ServerRouter{router.NewProxyRouter(proxyMiddlewares, handlerTransport)}

	return c, nil
}

func newRepositories(cfg *config.Config, db *database.DB) repositories {
	if db == nil {
		mem := repository.NewMemory(cfg.Audit.MemoryEvents, cfg.Audit.DedupeSize)
		return repositories{incidents: mem, finder: mem, audit: mem}
	}
	incidents := repository.NewIncidentRepository(db.DB)
	return repositories{
		incidents: incidents,
		finder:    incidents,
		audit:     repository.NewAuditRepository(db.DB),
	}
}

func (c *Container) healthChecks() map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if c.DB != nil {
		checks["database"] = c.DB
	}
	if c.Cache != nil {
		checks["redis"] = c.Cache
	}
	return checks
}

// Close releases the connections the container opened. The database is owned by the caller.
func (c *Container) Close() {
	if c.Notifier != nil {
		c.Notifier.Close()
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if c.MetricsWorker != nil {
		c.MetricsWorker.Shutdown()
	}
}
