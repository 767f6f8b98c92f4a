// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Horgix/incidents-automation-app/internal/chat/slack"
	"github.com/Horgix/incidents-automation-app/internal/config"
	"github.com/Horgix/incidents-automation-app/internal/domain"
	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/Horgix/incidents-automation-app/internal/pkg/ctxlog"
	"github.com/Horgix/incidents-automation-app/internal/pkg/httputil"
	"github.com/Horgix/incidents-automation-app/internal/pkg/metrics"
	"github.com/Horgix/incidents-automation-app/internal/pkg/postgres"
	"github.com/Horgix/incidents-automation-app/internal/statuspage/cachet"
	"github.com/Horgix/incidents-automation-app/internal/store/elasticsearch"
	pgstore "github.com/Horgix/incidents-automation-app/internal/store/postgres"
	"github.com/Horgix/incidents-automation-app/internal/tracker/jira"
	"github.com/Horgix/incidents-automation-app/internal/version"
	"github.com/Horgix/incidents-automation-app/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	bootstrapTimeout = 30 * time.Second
	dbMetricsPeriod  = 15 * time.Second
)

// Store is the incident store with a health check.
type Store interface {
	incidents.SearchStore
	Ping(ctx context.Context) error
}

// Dependencies are the external systems the orchestrator talks to.
type Dependencies struct {
	Tracker    incidents.IssueTracker
	Chat       incidents.ChatService
	Store      Store
	StatusPage incidents.StatusPage // nil disables status page forwarding
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // set for the postgres backend only
	deps          Dependencies
	service       *incidents.Service
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance connected to the configured
// collaborators.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	store, db, err := openStore(metricsCtx, cfg)
	if err != nil {
		metricsCancel()
		return nil, err
	}

	deps, err := newCollaborators(cfg)
	if err != nil {
		if db != nil {
			db.Close()
		}
		metricsCancel()
		return nil, err
	}
	deps.Store = store

	app, err := build(cfg, logger, deps)
	if err != nil {
		if db != nil {
			db.Close()
		}
		metricsCancel()
		return nil, err
	}
	app.db = db
	app.metricsCancel = metricsCancel

	if db != nil {
		go metrics.CollectDBPoolMetrics(metricsCtx, db, dbMetricsPeriod)
	}

	app.bootstrapIndex()

	return app, nil
}

// NewWithDependencies creates an application around the given collaborators.
// It does not bootstrap the index.
func NewWithDependencies(cfg *config.Config, deps Dependencies) (*App, error) {
	return build(cfg, initLogger(cfg.Log), deps)
}

func build(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*App, error) {
	if deps.Tracker == nil || deps.Chat == nil || deps.Store == nil {
		return nil, errors.New("tracker, chat and store are required")
	}

	renderer, err := incidents.NewRenderer(cfg.Jira.URL)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	service := incidents.NewService(
		incidents.Config{
			Index:              cfg.Store.Index,
			TrackerProject:     cfg.Jira.Project,
			TrackerIssueType:   cfg.Jira.IssueType,
			CloseTransitionID:  cfg.Jira.CloseTransitionID,
			MainRoomID:         cfg.Slack.MainChannelID,
			InviteUserIDs:      cfg.Slack.InviteUserIDs,
			CallTimeout:        cfg.Collaborators.CallTimeout,
			StoreWriteAttempts: cfg.Store.WriteAttempts,
			StoreRetryBackoff:  cfg.Store.RetryBackoff,
		},
		deps.Tracker,
		deps.Chat,
		deps.Store,
		deps.StatusPage,
		renderer,
		domain.NewCodec(cfg.Store.TimeLayout, cfg.Location()),
	)

	auth, err := newAuthenticator(cfg.Webhook.Auth)
	if err != nil {
		return nil, fmt.Errorf("configure webhook auth: %w", err)
	}

	app := &App{
		config:        cfg,
		logger:        logger,
		deps:          deps,
		service:       service,
		metricsCancel: func() {},
	}

	router := app.setupRouter(webhook.NewHandler(webhook.NewDispatcher(service, cfg.Webhook.Source), auth))

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, *pgxpool.Pool, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if cfg.Database.AutoMigrate {
			if err := pgstore.Migrate(cfg.Database.URL); err != nil {
				return nil, nil, fmt.Errorf("migrate database: %w", err)
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return pgstore.NewStore(db), db, nil

	default:
		store, err := elasticsearch.New(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

func newCollaborators(cfg *config.Config) (Dependencies, error) {
	tracker, err := jira.NewClient(jira.Config{
		URL:      cfg.Jira.URL,
		Username: cfg.Jira.Username,
		Password: cfg.Jira.Password,
		Timeout:  cfg.Collaborators.CallTimeout,
	})
	if err != nil {
		return Dependencies{}, fmt.Errorf("create tracker client: %w", err)
	}

	chat, err := slack.NewClient(slack.Config{
		Token:     cfg.Slack.Token,
		APIURL:    cfg.Slack.APIURL,
		RateLimit: cfg.Slack.RateLimit,
		Burst:     cfg.Slack.Burst,
	})
	if err != nil {
		return Dependencies{}, fmt.Errorf("create chat client: %w", err)
	}

	deps := Dependencies{
		Tracker: tracker,
		Chat:    chat,
	}

	if cfg.StatusPage.Enabled {
		deps.StatusPage = cachet.NewClient(cachet.Config{
			URL:         cfg.StatusPage.URL,
			Token:       cfg.StatusPage.Token,
			ComponentID: cfg.StatusPage.ComponentID,
			Timeout:     cfg.StatusPage.Timeout,
		})
	} else {
		slog.Warn("status page is disabled: incidents will not be declared publicly")
	}

	return deps, nil
}

func newAuthenticator(cfg config.AuthConfig) (httputil.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthBasic:
		return webhook.NewBasicAuthenticator(cfg.Username, cfg.PasswordHash)
	case config.AuthJWT:
		return webhook.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer), nil
	default:
		return nil, nil
	}
}

// bootstrapIndex creates the incident index. Failures are logged: the store
// may come up after the bot, and the service ensures the index again before
// its first write.
func (a *App) bootstrapIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	if err := a.service.EnsureIndex(ctx); err != nil {
		a.logger.Error("failed to ensure incident index", "index", a.config.Store.Index, "error", err)
		return
	}
	a.logger.Info("incident index ready", "index", a.config.Store.Index, "backend", a.config.Store.Backend)
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Get().Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.db != nil {
		a.db.Close()
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter(webhookHandler *webhook.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	webhookHandler.RegisterRoutes(r)

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.deps.Store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
