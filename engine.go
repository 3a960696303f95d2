// Package threadsync assembles the client-side reconciliation engine from
// its parts: configuration, logging, tracing, the offline cache, the REST
// and websocket clients, and the thread service. Library consumers construct
// one Engine per process and open per-thread views through it; everything
// below this package is internal.
package threadsync

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-sync/internal/backend"
	"github.com/tbourn/go-thread-sync/internal/config"
	"github.com/tbourn/go-thread-sync/internal/observability"
	"github.com/tbourn/go-thread-sync/internal/realtime"
	"github.com/tbourn/go-thread-sync/internal/repo"
	"github.com/tbourn/go-thread-sync/internal/services"
	"github.com/tbourn/go-thread-sync/internal/sysutil"
)

// Version is stamped into telemetry resources.
const Version = "0.1.0"

// View is the per-thread handle returned by OpenThread.
type View = services.ThreadView

// Update is one emission of a view's change stream.
type Update = services.ViewUpdate

// Engine is the process-wide engine instance. Construct with New, release
// with Shutdown after every open view has been closed.
type Engine struct {
	cfg   config.Config
	svc   *services.ThreadService
	cache *gorm.DB

	shutdownTracing func(context.Context) error
}

// New builds an engine from cfg: it sets the global log level, boots
// tracing, opens and migrates the offline cache, and wires the REST client
// and websocket subscriber into a thread service.
//
// A cache that cannot be opened degrades the engine to memory-only operation
// rather than failing construction; reconciliation does not depend on
// persistence.
func New(ctx context.Context, cfg config.Config) (*Engine, error) {
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg.OTEL.ServiceName = sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "go-thread-sync")
	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return nil, err
	}

	var cache *gorm.DB
	if cfg.CachePath != "" {
		cache, err = repo.OpenSQLite(cfg.CachePath)
		if err == nil {
			err = repo.AutoMigrate(cache)
		}
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.CachePath).Msg("cache unavailable, running memory-only")
			cache = nil
		}
	}

	e := &Engine{
		cfg:             cfg,
		cache:           cache,
		shutdownTracing: shutdownTracing,
		svc: &services.ThreadService{
			Backend:         backend.NewHTTPClient(cfg.BackendURL, cfg.APIKey, cfg.RateRPS, cfg.RateBurst),
			Subscriber:      &realtime.WSSubscriber{BaseURL: cfg.WSURL, APIKey: cfg.APIKey},
			Cache:           cache,
			PageSize:        cfg.PageSize,
			PendingTimeout:  cfg.PendingTimeout,
			MaxContentRunes: cfg.MaxContentRunes,
		},
	}
	return e, nil
}

// OpenThread opens a reconciled view over threadID on behalf of actorID.
// The caller owns the returned view and must Close it on every exit path.
func (e *Engine) OpenThread(ctx context.Context, threadID, actorID string) (*View, error) {
	return e.svc.OpenThread(ctx, threadID, actorID)
}

// Shutdown flushes tracing and closes the cache. Open views must be closed
// first; Shutdown does not chase them.
func (e *Engine) Shutdown(ctx context.Context) error {
	var first error
	if e.shutdownTracing != nil {
		if err := e.shutdownTracing(ctx); err != nil {
			first = err
		}
	}
	if e.cache != nil {
		if sqlDB, err := e.cache.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
