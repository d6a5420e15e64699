// Package app wires the Bastion server runtime: config, logging, HTTP routes,
// and the session-family core with its storage and rate-guard backends.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	authapi "bastion/cmd/internal/auth/api"
	"bastion/cmd/internal/auth/accesstoken"
	"bastion/cmd/internal/auth/family"
	"bastion/cmd/internal/auth/guard"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Bastion server runtime: it owns HTTP server wiring and the
// session-family service dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	families *family.Service
	auth     *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, famStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	famCfg, err := family.LoadConfigFromEnv()
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	opts := []family.ServiceOption{
		family.WithRateGuard(newRateGuard(cfg, famCfg, log)),
	}
	if dbEnabled {
		opts = append(opts, family.WithEventSink(family.NewPostgresEventSink(dbPool)))
	}
	families := family.NewService(famCfg, log, famStore, opts...)

	tokCfg, err := accesstoken.LoadConfigFromEnv()
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}
	tokens, err := accesstoken.NewFromConfig(tokCfg)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), families, tokens)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		families:  families,
		auth:      authHandler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.runSweeper(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// runSweeper periodically revokes expired, never-revoked credentials so the
// directory and metrics reflect only live sessions.
func (a *App) runSweeper(ctx context.Context) {
	if a.cfg.SweepInterval <= 0 {
		return
	}
	t := time.NewTicker(a.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.families.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				a.log.Error("sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				a.log.Info("sweep.done", "revoked", n)
			}
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and an in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, family.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, family.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model: app owns the pool lifecycle; the family store
	// never closes it.
	return dbStore{pool: pool}, pool, true, family.NewPostgresStore(pool), nil
}

// newRateGuard picks the counter backend for the rotation rate guard.
func newRateGuard(cfg Config, famCfg family.Config, log Logger) *guard.Guard {
	gcfg := guard.Config{
		RotationMax:    famCfg.RotationRateMax,
		RotationWindow: famCfg.RotationRateWindow,
	}

	if cfg.RedisAddr == "" {
		log.Info("guard.counters.memory")
		return guard.New(guard.NewMemoryCounterStore(), gcfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Info("guard.counters.redis", "addr", cfg.RedisAddr)
	return guard.New(guard.NewRedisCounterStore(client), gcfg)
}

func closeQuietly(st Store, log Logger) {
	if st == nil {
		return
	}
	if err := st.Close(context.Background()); err != nil {
		log.Error("store.close.fail", "err", err)
	}
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
