package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/config"
	"github.com/carelink/consult/internal/domain/account"
	"github.com/carelink/consult/internal/domain/consultation"
	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/db"
	"github.com/carelink/consult/internal/platform/events"
	"github.com/carelink/consult/internal/platform/meeting"
	"github.com/carelink/consult/internal/platform/middleware"
	"github.com/carelink/consult/internal/platform/websocket"
)

const version = "0.1.0"

// devSigningKey signs tokens in development when AUTH_SIGNING_KEY is unset.
const devSigningKey = "dev-signing-key-not-for-production"

// app holds every long-lived component of a running server.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	accounts      *account.Service
	directory     *account.Directory
	consultations *consultation.Service
	hub           *websocket.Hub
	meetings      meeting.Provisioner

	// origin tags events this instance publishes to Redis.
	origin string
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	key := cfg.AuthSigningKey
	if key == "" && cfg.IsDev() {
		key = devSigningKey
	}
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(key),
	}
}

// buildApp wires the stores, routing services and realtime hub for cfg. The
// returned cleanup releases connections; it does not close the hub.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, func(), error) {
	a := &app{cfg: cfg, logger: logger, origin: uuid.NewString()}
	cleanup := func() {
		if a.redis != nil {
			a.redis.Close()
		}
		if a.pool != nil {
			a.pool.Close()
		}
	}

	var (
		accountRepo      account.Repository
		consultationRepo consultation.Repository
		tx               db.Transactor
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, cleanup, err
		}
		a.pool = pool
		logger.Info().Msg("connected to database")
		accountRepo = account.NewRepoPG(pool)
		consultationRepo = consultation.NewRepoPG(pool)
		tx = db.NewPgTransactor(pool)
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory stores; data is lost on restart")
		accountRepo = account.NewRepoMemory()
		consultationRepo = consultation.NewRepoMemory()
		tx = db.NewLockTransactor()
	default:
		return nil, cleanup, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	a.hub = websocket.NewHub(logger)

	var pub events.Publisher = a.hub
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, cleanup, err
		}
		a.redis = client
		pub = events.Multi{a.hub, events.NewRedisPublisher(client, cfg.EventsChannel, a.origin)}
		logger.Info().Str("channel", cfg.EventsChannel).Msg("publishing events to redis")
	}

	meetings, err := meeting.NewJitsiProvisioner(cfg.MeetingBaseURL)
	if err != nil {
		return nil, cleanup, err
	}
	a.meetings = meetings

	a.accounts = account.NewService(accountRepo)
	a.directory = account.NewDirectory(accountRepo, logger)
	engine := consultation.NewEngine(consultationRepo, a.directory, tx, pub, logger)
	a.consultations = consultation.NewService(consultationRepo, engine)

	return a, cleanup, nil
}

// authorizeRoom lets a caller into a consultation room when they may view
// the consultation.
func (a *app) authorizeRoom(ctx context.Context, roomID uuid.UUID, actor auth.Identity) error {
	if _, err := a.consultations.GetForActor(ctx, roomID, actor); err != nil {
		return consultation.HTTPError(err)
	}
	return nil
}

func (a *app) newServer() *echo.Echo {
	cfg := a.cfg
	logger := a.logger
	jwtCfg := jwtConfig(cfg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders(middleware.DefaultSecurityConfig()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     version,
			"rooms":       a.hub.RoomCount(),
			"connections": a.hub.ConnectionCount(),
		})
	})
	if a.pool != nil {
		pool := a.pool
		e.GET("/health/db", db.HealthHandler(config.DriverPostgres, pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	} else {
		e.GET("/health/db", db.HealthHandler(cfg.StoreDriver, nil, nil))
	}

	// Realtime rooms authenticate on upgrade.
	ws := websocket.NewHandler(a.hub, a.authorizeRoom, websocket.Config{
		JWT:            jwtCfg,
		DevMode:        cfg.IsDev(),
		SendBuffer:     cfg.WSSendBuffer,
		WriteTimeout:   cfg.WSWriteTimeout,
		PongTimeout:    cfg.WSPongTimeout,
		AllowedOrigins: cfg.CORSOrigins,
	}, logger)
	ws.RegisterRoutes(e.Group(""))

	// API
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.Audit(logger, nil))

	account.NewHandler(a.accounts, a.directory).RegisterRoutes(apiV1)
	consultation.NewHandler(a.consultations, a.meetings, cfg.MeetingDuration(), logger).RegisterRoutes(apiV1)

	return e
}

// relayEvents forwards lifecycle events published by other instances to the
// local hub until ctx is cancelled.
func (a *app) relayEvents(ctx context.Context) {
	if a.redis == nil {
		return
	}
	go func() {
		if err := events.Relay(ctx, a.redis, a.cfg.EventsChannel, a.origin, a.hub, a.logger); err != nil {
			a.logger.Error().Err(err).Msg("event relay stopped")
		}
	}()
}
