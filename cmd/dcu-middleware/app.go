package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/abuseapi"
	httptransport "github.com/gdsec-test/dcu-middleware/internal/api/http"
	"github.com/gdsec-test/dcu-middleware/internal/api/http/handlers"
	"github.com/gdsec-test/dcu-middleware/internal/auth"
	"github.com/gdsec-test/dcu-middleware/internal/config"
	"github.com/gdsec-test/dcu-middleware/internal/enrichment"
	"github.com/gdsec-test/dcu-middleware/internal/events"
	"github.com/gdsec-test/dcu-middleware/internal/identity"
	"github.com/gdsec-test/dcu-middleware/internal/observability"
	"github.com/gdsec-test/dcu-middleware/internal/persistence"
	"github.com/gdsec-test/dcu-middleware/internal/pipeline"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
	"github.com/gdsec-test/dcu-middleware/internal/repository"
	"github.com/gdsec-test/dcu-middleware/internal/routing"
	"github.com/gdsec-test/dcu-middleware/internal/service"
	"github.com/gdsec-test/dcu-middleware/internal/worker"
)

const outboundTimeout = 30 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	postgres *persistence.Postgres
	redis    *persistence.Redis
	queue    queue.Queue

	incidents repository.IncidentRepository
	recorder  *service.ActionRecorder
	handler   *worker.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	redis := persistence.NewRedis(ctx, cfg.Redis, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		postgres: pg,
		redis:    redis,
		queue:    queue.NewRedisQueue(redis.Client),
	}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	pool := a.postgres.PoolHandle()
	a.incidents = repository.NewIncidentRepository(pool)
	dispatcher := events.NewInMemoryDispatcher()

	enrichmentHTTP, err := auth.NewHTTPClient(cfg.Enrichment.ClientCertPath, cfg.Enrichment.ClientKeyPath, outboundTimeout)
	if err != nil {
		return fmt.Errorf("enrichment client: %w", err)
	}
	identityHTTP, err := auth.NewHTTPClient(cfg.Identity.ClientCertPath, cfg.Identity.ClientKeyPath, outboundTimeout)
	if err != nil {
		return fmt.Errorf("identity client: %w", err)
	}
	plainHTTP, _ := auth.NewHTTPClient("", "", outboundTimeout)

	enrichmentTokens := auth.NewTokenCache(auth.NewCertFetcher(cfg.Enrichment.SSOURL, enrichmentHTTP))
	abuseTokens := auth.NewTokenCache(auth.NewPasswordFetcher(cfg.AbuseAPI.SSOURL, cfg.AbuseAPI.SSOUser, cfg.AbuseAPI.SSOPassword, plainHTTP))

	notifications := service.NewNotificationService(dispatcher, abuseapi.NewClient(cfg.AbuseAPI.TicketsURL, plainHTTP, abuseTokens), a.logger)
	router := routing.NewRouter(routing.NewQueueTransport(a.queue, cfg.Queues), a.logger, a.metrics)
	p := pipeline.New(pipeline.Dependencies{
		Incidents: a.incidents,
		Blocklist: repository.NewBlocklistRepository(pool),
		Enricher:  enrichment.NewClient(cfg.Enrichment.BaseURL, enrichmentHTTP, enrichmentTokens),
		Identity:  identity.NewResolver(cfg.Identity.BaseURL, identityHTTP),
		Hosts:     net.DefaultResolver,
		Router:    router,
		Upstream:  notifications,
		Validator: enrichment.NewValidator(cfg.Pipeline.RegisteredOnlyProducts),
		Events:    dispatcher,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, cfg.Pipeline)

	a.recorder = service.NewActionRecorder(&service.ActionDependencies{
		Actions:    repository.NewIncidentActionRepository(pool),
		Dispatcher: dispatcher,
		Logger:     a.logger,
	})
	worker.StartSubscribers(notifications, a.recorder)

	a.handler = worker.NewHandler(a.incidents, p, cfg.Pipeline.TaskTimeLimit, a.logger)
	return nil
}

func (a *app) httpServer() *fiber.App {
	server := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(server, a.logger, a.metrics, a.cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(a.cfg.App.Name, a.cfg.App.Version, a.postgres, a.redis),
		Metrics:        handlers.NewMetricsHandler(a.metrics),
		Intake:         handlers.NewIntakeHandler(a.queue, a.cfg.Queues.Intake, a.logger),
		Tickets:        handlers.NewTicketsHandler(a.incidents, a.recorder, a.queue, a.cfg.Queues.Intake),
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(a.cfg.Auth.ServiceTokenSecret, 0)),
	})
	return server
}

func (a *app) workerPool() *worker.Pool {
	return worker.NewPool(&worker.Dependencies{
		Queue:   a.queue,
		Handler: a.handler,
		Metrics: a.metrics,
		Logger:  a.logger,
	}, a.cfg.Queues.Intake, a.cfg.Pipeline)
}

func (a *app) close() {
	a.redis.Close()
	a.postgres.Close()
}
