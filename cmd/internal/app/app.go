// Package app wires the huddle server runtime: config, logging, the HTTP
// surface, and the realtime chat gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"huddle/cmd/internal/chat"
	"huddle/cmd/internal/realtime"
)

// App is the server runtime: it owns the HTTP server, the chat repository,
// and the realtime broker/gateway pair.
type App struct {
	cfg Config
	log Logger

	repo      chat.Repository
	dbPool    *pgxpool.Pool
	dbEnabled bool

	broker *realtime.Broker
	ws     *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	repo, dbPool, dbEnabled, err := newRepository(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	broker := realtime.NewBroker(log, cfg.BrokerQueueSize)
	ws := realtime.NewWSGateway(log, repo, broker, realtime.GatewayConfig{
		OriginRequired:  cfg.WSOriginRequired,
		AllowedOrigins:  cfg.WSAllowedOrigins,
		DevInsecure:     cfg.WSDevInsecure,
		AccessKeyHash:   cfg.AccessKeyHash,
		WriteTimeout:    cfg.WSWriteTimeout,
		ReadIdleTimeout: cfg.WSReadIdleTimeout,
		SendQueueSize:   cfg.WSSendQueueSize,
		RatePerSec:      cfg.WSRatePerSec,
		RateBurst:       cfg.WSRateBurst,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		repo:      repo,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		broker:    broker,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

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

	a.broker.Close()
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
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

// newRepository decides between Postgres-backed persistence and the
// in-memory dev repository.
func newRepository(ctx context.Context, cfg Config, log Logger) (chat.Repository, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.memory_repository")
		return chat.NewMemoryRepository(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	repo, err := chat.NewPostgresRepository(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_repository", "schema", cfg.DBSchema)
	return repo, pool, true, nil
}
