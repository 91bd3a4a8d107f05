package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/skyplanner/eventkit/alerts"
	"github.com/skyplanner/eventkit/pkg/audit"
	"github.com/skyplanner/eventkit/pkg/config"
	"github.com/skyplanner/eventkit/pkg/httpserver"
	"github.com/skyplanner/eventkit/pkg/logger"
	"github.com/skyplanner/eventkit/pkg/pg"
	rediskit "github.com/skyplanner/eventkit/pkg/redis"
	"github.com/skyplanner/eventkit/webhook"
	"github.com/skyplanner/eventkit/ws"
)

// Config carries the application-level settings; subsystem configs are
// loaded separately from the same environment.
type Config struct {
	ServiceName    string   `env:"SERVICE_NAME" envDefault:"eventkit"`
	JWTSecret      string   `env:"JWT_SECRET,required"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

// App owns the wired realtime and webhook subsystems plus their shared
// infrastructure.
type App struct {
	cfg    Config
	log    *slog.Logger
	pool   *pgxpool.Pool
	rdb    *goredis.Client
	server *httpserver.Server

	hub        *ws.Hub
	engine     *webhook.Engine
	Dispatcher *webhook.Dispatcher
	Alerts     *alerts.Notifier
	handler    *webhook.Handler
	verifier   *ws.TokenVerifier
}

// New loads configuration from the environment and wires every
// subsystem. It connects to postgres and redis eagerly so a broken
// deployment fails at startup, not on first use.
func New(ctx context.Context) (*App, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	var logCfg logger.Config
	if err := config.Load(&logCfg); err != nil {
		return nil, err
	}
	log := logger.New(logger.WithConfig(logCfg), logger.WithService(cfg.ServiceName))

	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	var redisCfg rediskit.Config
	if err := config.Load(&redisCfg); err != nil {
		return nil, err
	}
	rdb, err := rediskit.Connect(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return nil, err
	}
	var alertCfg alerts.Config
	if err := config.Load(&alertCfg); err != nil {
		return nil, err
	}

	auditLog := audit.NewLogger(audit.NewPostgresStorage(pool), log)
	notifier := alerts.NewNotifier(alertCfg, alerts.WithLogger(log))

	repo := webhook.NewPostgresRepository(pool)
	engine := webhook.NewEngine(repo,
		webhook.WithLogger(log),
		webhook.WithAuditLogger(auditLog))
	dispatcher := webhook.NewDispatcher(repo, engine,
		webhook.WithDispatcherLogger(log))
	service := webhook.NewService(repo, engine,
		webhook.WithServiceLogger(log),
		webhook.WithServiceAudit(auditLog))

	verifier, err := ws.NewTokenVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	hubOpts := []ws.HubOption{
		ws.WithHubLogger(log),
		ws.WithAuditLogger(auditLog),
		ws.WithBlacklist(ws.NewRedisBlacklist(rdb)),
	}
	if len(cfg.AllowedOrigins) > 0 {
		hubOpts = append(hubOpts, ws.WithAllowedOrigins(cfg.AllowedOrigins...))
	}
	registry := ws.NewRegistry(ws.WithRegistryLogger(log))
	hub := ws.NewHub(verifier, registry, ws.NewPresence(), hubOpts...)

	app := &App{
		cfg:        cfg,
		log:        log,
		pool:       pool,
		rdb:        rdb,
		server:     httpserver.New(httpCfg, httpserver.WithLogger(log)),
		hub:        hub,
		engine:     engine,
		Dispatcher: dispatcher,
		Alerts:     notifier,
		verifier:   verifier,
	}
	app.handler = webhook.NewHandler(service, app.identity, log)
	return app, nil
}

// identity authenticates admin API requests with the same token the hub
// accepts.
func (a *App) identity(r *http.Request) (int64, int64, error) {
	cookie, err := r.Cookie(ws.CookieName)
	if err != nil || cookie.Value == "" {
		return 0, 0, ws.ErrMissingToken
	}
	claims, err := a.verifier.Verify(cookie.Value)
	if err != nil {
		return 0, 0, err
	}
	return claims.OrganizationID, claims.UserID, nil
}

// Broadcast pushes a domain event to every websocket client in the
// tenant. A non-zero excludeUserID skips that user's connections.
func (a *App) Broadcast(orgID int64, msgType string, data any, excludeUserID int64) error {
	return a.hub.Broadcast(orgID, msgType, data, excludeUserID)
}

// SendToUser pushes a domain event to one user's websocket clients in
// the tenant.
func (a *App) SendToUser(orgID, userID int64, msgType string, data any) error {
	return a.hub.SendToUser(orgID, userID, msgType, data)
}

// Router assembles the HTTP surface: probes, the websocket upgrade, and
// the webhook admin API.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.Healthcheck(a.log))
	r.Get("/readyz", httpserver.Healthcheck(a.log,
		pg.Healthcheck(a.pool),
		rediskit.Healthcheck(a.rdb)))

	r.Handle("/ws", a.hub)
	r.Mount("/api/webhooks", a.handler.Router())
	return r
}

// Run serves HTTP and runs the delivery engine until the context is
// canceled, then shuts both down in order: stop accepting upgrades,
// close live sockets, drain HTTP, stop the engine.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)
	defer a.engine.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(ctx, a.Router())
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.hub.Shutdown(context.WithoutCancel(ctx))
	})

	err := g.Wait()
	a.pool.Close()
	if closeErr := a.rdb.Close(); closeErr != nil {
		a.log.Error("redis close failed", slog.Any("error", closeErr))
	}
	return err
}
