package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
	"github.com/example/clinic-scheduler/internal/cache"
	"github.com/example/clinic-scheduler/internal/config"
	httptransport "github.com/example/clinic-scheduler/internal/http"
	"github.com/example/clinic-scheduler/internal/metrics"
	"github.com/example/clinic-scheduler/internal/persistence"
	"github.com/example/clinic-scheduler/internal/persistence/postgres"
	"github.com/example/clinic-scheduler/internal/persistence/sqlite"
)

// store is the driver neutral view of a storage backend.
type store interface {
	Users() persistence.UserRepository
	Sessions() persistence.SessionRepository
	Slots() persistence.SlotRepository
	Migrate(ctx context.Context, logger zerolog.Logger) error
	Ping(ctx context.Context) error
	Close() error
}

type sqliteStore struct{ db *sqlite.Storage }

func (s sqliteStore) Users() persistence.UserRepository       { return s.db.Users }
func (s sqliteStore) Sessions() persistence.SessionRepository { return s.db.Sessions }
func (s sqliteStore) Slots() persistence.SlotRepository       { return s.db.Slots }
func (s sqliteStore) Ping(ctx context.Context) error          { return s.db.Ping(ctx) }
func (s sqliteStore) Close() error                            { return s.db.Close() }
func (s sqliteStore) Migrate(ctx context.Context, logger zerolog.Logger) error {
	return s.db.Migrate(ctx, logger)
}

type postgresStore struct{ db *postgres.Storage }

func (s postgresStore) Users() persistence.UserRepository       { return s.db.Users }
func (s postgresStore) Sessions() persistence.SessionRepository { return s.db.Sessions }
func (s postgresStore) Slots() persistence.SlotRepository       { return s.db.Slots }
func (s postgresStore) Ping(ctx context.Context) error          { return s.db.Ping(ctx) }
func (s postgresStore) Close() error                            { return s.db.Close() }
func (s postgresStore) Migrate(ctx context.Context, logger zerolog.Logger) error {
	return s.db.Migrate(ctx, logger)
}

func openStore(ctx context.Context, cfg config.Config) (store, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		storage, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return sqliteStore{storage}, nil
	case config.DriverPostgres:
		storage, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgresStore{storage}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func openCache(ctx context.Context, cfg config.Config) (cache.Cache, httptransport.Pinger, error) {
	switch cfg.CacheDriver {
	case config.CacheRedis:
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return redisCache, redisCache, nil
	default:
		return cache.NewMemoryCache(), nil, nil
	}
}

// app owns the process wide dependencies shared by the serve command.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	store   store
	cache   cache.Cache
	checks  map[string]httptransport.Pinger
	handler http.Handler
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, cachePinger, err := openCache(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	checks := map[string]httptransport.Pinger{"database": st}
	if cachePinger != nil {
		checks["cache"] = cachePinger
	}
	a := &app{cfg: cfg, logger: logger, store: st, cache: c, checks: checks}
	if a.handler, err = a.buildHandler(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx, a.logger)
}

func (a *app) Handler() http.Handler {
	return a.handler
}

// buildHandler assembles the services and the router.
func (a *app) buildHandler() (http.Handler, error) {
	tokens, err := application.NewAccessTokenIssuer(a.cfg.JWTSecret, a.cfg.JWTIssuer, a.cfg.AccessTokenTTL, nil)
	if err != nil {
		return nil, err
	}

	var recorder application.MetricsRecorder
	routerCfg := httptransport.RouterConfig{
		Logger:      a.logger,
		CORSOrigins: a.cfg.CORSOrigins,
	}
	if a.cfg.MetricsEnabled {
		m := metrics.New()
		recorder = m
		routerCfg.Metrics = m
		routerCfg.MetricsHandler = m.Handler()
	}

	status := cache.NewSessionStatusStore(a.cache, a.cfg.SessionStatusTTL, 0)
	authService := application.NewAuthServiceWithLogger(
		a.store.Users(),
		a.store.Sessions(),
		tokens,
		status,
		recorder,
		nil,
		application.AuthPolicy{SessionTTL: a.cfg.SessionTTL, RevokeOnReuse: a.cfg.RevokeOnReuse, ReuseGrace: a.cfg.ReuseGrace},
		a.logger,
	)
	userService := application.NewUserServiceWithLogger(a.store.Users(), nil, nil, nil, a.logger)
	slotService := application.NewSlotServiceWithLogger(
		a.store.Slots(),
		a.store.Users(),
		recorder,
		nil,
		nil,
		application.SlotPolicy{Duration: a.cfg.SlotDuration, PreserveBookedSlots: a.cfg.SlotPreserveBooked},
		a.logger,
	)

	routerCfg.Auth = httptransport.NewAuthHandler(authService, a.logger)
	routerCfg.Users = httptransport.NewUserHandler(userService, a.logger)
	routerCfg.Slots = httptransport.NewSlotHandler(slotService, a.logger)
	routerCfg.Health = httptransport.NewHealthHandler(a.checks, a.logger)
	routerCfg.Access = authService
	return httptransport.NewRouter(routerCfg), nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close cache")
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close storage")
	}
}
