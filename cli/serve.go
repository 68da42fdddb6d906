package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/nakulsingh04/kanban-board-project/api"
	"github.com/nakulsingh04/kanban-board-project/broadcast"
	"github.com/nakulsingh04/kanban-board-project/config"
	"github.com/nakulsingh04/kanban-board-project/storage"
)

func newServeCmd(app *App) *cobra.Command {
	var addr, backend string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and the broadcast channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.cfg
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if backend != "" {
				cfg.Storage.Kind = backend
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, app.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: :$PORT or :8080)")
	cmd.Flags().StringVar(&backend, "storage", "", "Storage backend: tables, sqlite or mongo (default: STORAGE_BACKEND)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.close()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s, board: %s, storage: %s", cfg.ListenAddr, cfg.BoardID, cfg.Storage.Kind)
		errCh <- srv.echo.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Websocket and SSE handlers only return once the hub lets go of them.
	srv.hub.Close()
	return srv.echo.Shutdown(shutdownCtx)
}

type server struct {
	echo    *echo.Echo
	hub     *broadcast.Hub
	bus     *broadcast.RedisBus
	cancel  context.CancelFunc
	closers []func(context.Context) error
	logger  *log.Logger
}

// newServer wires storage, the broadcast channel and the HTTP surface from
// cfg. The caller owns close.
func newServer(ctx context.Context, cfg config.Config, logger *log.Logger) (_ *server, err error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &server{cancel: cancel, logger: logger}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	base, closeStore, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s.closers = append(s.closers, closeStore)
	var store api.Storage = base

	var rdb *redis.Client
	if cfg.RedisConnection != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		rdb = redis.NewClient(opts)
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
		store = storage.NewCache(base, rdb, cfg.CacheTTL)
	}

	auth, err := newAuth(cfg, s)
	if err != nil {
		return nil, err
	}

	hubOpts := broadcast.HubOptions{
		SendBuffer:     cfg.SendBuffer,
		DefaultBoard:   cfg.BoardID,
		AllowedOrigins: cfg.CORSOrigins,
	}
	if auth != nil && cfg.RequireAuth {
		hubOpts.Authorize = func(r *http.Request) error {
			header := r.Header.Get(echo.HeaderAuthorization)
			if header == "" && r.URL.Query().Get("token") != "" {
				header = "Bearer " + r.URL.Query().Get("token")
			}
			_, err := auth.UserIDFromAuthHeader(header)
			return err
		}
	}
	s.hub = broadcast.NewHub(logger, hubOpts)

	var publishers broadcast.Fanout
	if rdb != nil {
		s.bus = broadcast.NewRedisBus(rdb, cfg.BroadcastChannel, s.hub, logger)
		s.hub.SetRelay(s.bus.Forward)
		go s.bus.Run(ctx)
		publishers = append(publishers, s.bus)
	} else {
		publishers = append(publishers, s.hub)
	}
	if cfg.EventsQueue != "" {
		exporter, err := broadcast.NewQueueExporter(cfg.Storage.ConnectionString, cfg.EventsQueue, broadcast.ExporterOptions{
			Workers: cfg.ExportWorkers,
			Buffer:  cfg.ExportBuffer,
			Handoff: cfg.ExportHandoff,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { exporter.Close(); return nil })
		publishers = append(publishers, exporter)
	}

	deps := api.Deps{
		Store:     store,
		Publisher: publishers,
		Logger:    logger,
		Options: api.Options{
			DefaultBoard:    cfg.BoardID,
			Limits:          cfg.Limits,
			CompactOnDelete: cfg.CompactOnDelete,
			DevEndpoints:    cfg.DevEndpoints,
			SeedTasks:       storage.SampleTasks,
			RequireAuth:     cfg.RequireAuth,
		},
	}
	if auth != nil {
		deps.Auth = auth
	}
	if rdb != nil {
		deps.Deduper = api.NewRedisDeduper(rdb, cfg.DeduperTTL)
	}

	s.echo = newEcho(cfg, logger)
	api.Register(s.echo, deps)
	s.echo.GET("/ws", s.hub.ServeWS)
	s.echo.GET("/api/stream", s.hub.ServeSSE)
	return s, nil
}

func newAuth(cfg config.Config, s *server) (*api.Auth, error) {
	if !cfg.AuthEnabled() {
		return nil, nil
	}
	if cfg.LocalAuthSecret != "" {
		return api.NewAuth(api.AuthConfig{HS256Secret: []byte(cfg.LocalAuthSecret)})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			s.logger.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { jwks.EndBackground(); return nil })
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.Auth0Audience,
		Issuer:      "https://" + cfg.Auth0Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	})
}

func newEcho(cfg config.Config, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = api.JSONSerializer{}
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	registry := prometheus.NewRegistry()
	longLived := func(c echo.Context) bool {
		switch c.Path() {
		case "/ws", "/api/stream", "/metrics", "/health":
			return true
		}
		return false
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RateLimitMax > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: longLived,
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Every(cfg.RateLimitWindow / time.Duration(cfg.RateLimitMax)),
				Burst:     cfg.RateLimitMax,
				ExpiresIn: cfg.RateLimitWindow,
			}),
		}))
	}
	e.Use(api.DecompressRequests(0))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "taskboard",
		Skipper:    longLived,
		Registerer: registry,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, registry},
	}))
	return e
}

func (s *server) close() {
	s.cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.WithError(err).Warn("close")
		}
	}
	s.closers = nil
}
