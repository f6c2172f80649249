// Package app wires every component into a running process: it is the
// only place in the module that imports every domain package at once.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/meridianai/controlplane/internal/config"
	"github.com/meridianai/controlplane/internal/httpserver"
	"github.com/meridianai/controlplane/internal/platform"
	"github.com/meridianai/controlplane/internal/seed"
	"github.com/meridianai/controlplane/internal/telemetry"
	"github.com/meridianai/controlplane/pkg/accesscontrol"
	"github.com/meridianai/controlplane/pkg/agent"
	"github.com/meridianai/controlplane/pkg/cache"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/collab"
	"github.com/meridianai/controlplane/pkg/insights"
	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/persistence"
	"github.com/meridianai/controlplane/pkg/taskqueue"
	"github.com/meridianai/controlplane/pkg/tenant"
)

// Version is the build version reported on /health.
const Version = "0.1.0"

// agentKinds is the closed set of agent kinds the dispatcher warms a
// worker loop for per active tenant (spec §4.7).
var agentKinds = []agent.Kind{
	agent.KindSales,
	agent.KindMarketing,
	agent.KindContent,
	agent.KindAnalytics,
	agent.KindOperations,
}

// Run reads dependencies from cfg, wires every component, and serves until
// ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting controlplane", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "controlplane", Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	} else {
		logger.Info("redis disabled (REDIS_URL not set): cache runs in-process only, SSO redirect flow and distributed rate limiting are unavailable")
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	if cfg.Mode == "seed-demo" {
		return seed.RunDemo(ctx, pool, logger)
	}

	return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	db := persistence.NewPostgres(pool)
	idGen := clock.UUIDGenerator{}
	clk := clock.System{}

	// --- Tenant Store ---
	tenantStore := tenant.NewStore(db, idGen, clk)
	tenantSvc := tenant.NewService(tenantStore, logger, cfg.SessionSecret)

	// --- Access Control ---
	acStore := accesscontrol.NewStore(db, idGen, clk)
	auditWriter := accesscontrol.NewAuditWriter(db, idGen, clk, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	var limiter accesscontrol.RateLimiter
	if rdb != nil {
		limiter = accesscontrol.NewRedisRateLimiter(rdb, 10, 15*time.Minute)
	} else {
		limiter = accesscontrol.NewInProcessRateLimiter(10, 15*time.Minute)
	}

	acSvc := accesscontrol.NewService(acStore, limiter, auditWriter, cfg.SessionSecret, logger)
	authn := accesscontrol.NewAuthenticator(acSvc)
	auditAdapter := accesscontrol.NewAuditAdapter(auditWriter)
	require := authn.RequirePermission

	var sso *accesscontrol.SSOAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" && cfg.OIDCClientSecret != "" {
		var err error
		sso, err = accesscontrol.NewSSOAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, cfg.OIDCClientSecret,
			cfg.OIDCCallbackURL, cfg.OIDCFrontendRedirectURL, rdb, acStore, cfg.SessionSecret, auditWriter, logger)
		if err != nil {
			return fmt.Errorf("initializing SSO authenticator: %w", err)
		}
		logger.Info("enterprise SSO enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("enterprise SSO disabled (OIDC_ISSUER_URL/OIDC_CLIENT_ID/OIDC_CLIENT_SECRET not fully set)")
	}
	acHandler := accesscontrol.NewHandler(acSvc, acStore, sso)
	auditHandler := accesscontrol.NewAuditHandler(auditWriter)

	// --- Cache ---
	ch := cache.New(cache.DefaultConfig(), clk, rdb)
	go ch.RunSweeper(ctx)
	cacheHandler := cache.NewHandler(ch)

	// --- Model Provider Registry ---
	models := modelprovider.NewRegistry()
	models.RegisterSafeDefault(modelprovider.SafeDefaultEntry())
	models.RegisterProvider(modelprovider.EchoProvider{})

	// --- Task Queue & Dispatcher ---
	taskStore := taskqueue.NewStore(db, idGen, clk)
	taskSvc := taskqueue.NewService(taskStore, tenantSvc, clk, logger)
	taskHandler := taskqueue.NewHandler(taskSvc, auditAdapter)

	agentDeps := agent.Deps{Cache: ch, Models: models, IDClock: clk}
	agentRegistry := agent.NewRegistry(agentDeps)
	agentHandler := agent.NewHandler(agentRegistry)

	dispatcher := taskqueue.NewDispatcher(taskStore, tenantSvc, agentRegistry, clk, logger)

	// --- Insights Engine (wired as the dispatcher's metric sink so queue
	// wait/exec/retry/outcome events are persisted, not just exported) ---
	sampleStore := insights.NewStore(db, idGen, clk)
	dispatcher.SetMetricSink(sampleStore)
	insightsEngine := insights.NewEngine(taskStore, sampleStore, clk)
	insightsHandler := insights.NewHandler(insightsEngine)

	// --- Collaboration Coordinator ---
	collabStore := collab.NewStore(db, idGen, clk)
	collabSvc := collab.NewService(collabStore, taskSvc, logger)
	collabHandler := collab.NewHandler(collabSvc, auditAdapter)

	// Start a worker loop for every agent kind of every active tenant, and
	// again whenever a new tenant is created (spec §4.6/§4.7: agents are
	// always-on per tenant, not started on first task submission).
	warmDispatcher(ctx, dispatcher, tenantSvc, logger)
	tenantSvc.SetOnCreate(func(t tenant.Tenant) {
		for _, kind := range agentKinds {
			dispatcher.EnsureWorker(ctx, t.ID, string(kind))
		}
	})

	pingers := map[string]httpserver.Pinger{"database": pool}
	if rdb != nil {
		pingers["redis"] = platform.RedisPinger{Client: rdb}
	}

	srv := httpserver.NewServer(cfg, logger, metricsReg, Version, authn.Middleware, pingers)

	srv.Router.Mount("/auth", acHandler.PublicRoutes())

	srv.APIRouter.Mount("/users", acHandler.Routes(require))
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes(require))
	srv.APIRouter.Mount("/tenants", tenant.NewHandler(tenantSvc, auditAdapter).Routes)
	srv.APIRouter.Mount("/cache", cacheHandler.Routes(require))
	srv.APIRouter.Mount("/tasks", taskHandler.Routes(require))
	srv.APIRouter.Mount("/agents", agentHandler.Routes(require))
	srv.APIRouter.Mount("/collaborations", collabHandler.Routes(require))
	srv.APIRouter.Mount("/insights", insightsHandler.Routes(require))

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// warmDispatcher starts a worker loop for every agent kind of every active
// tenant known at startup.
func warmDispatcher(ctx context.Context, d *taskqueue.Dispatcher, tenantSvc *tenant.Service, logger *slog.Logger) {
	tenants, err := tenantSvc.List(ctx, tenant.StatusActive)
	if err != nil {
		logger.Error("listing active tenants for dispatcher warmup", "error", err)
		return
	}
	for _, t := range tenants {
		for _, kind := range agentKinds {
			d.EnsureWorker(ctx, t.ID, string(kind))
		}
	}
	logger.Info("dispatcher warmed up", "tenants", len(tenants), "agent_kinds", len(agentKinds))
}
