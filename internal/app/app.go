package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/auth"
	"github.com/ringlink/ringlink-server/internal/bus"
	"github.com/ringlink/ringlink-server/internal/cachemgr"
	"github.com/ringlink/ringlink-server/internal/config"
	"github.com/ringlink/ringlink-server/internal/log"
	"github.com/ringlink/ringlink-server/internal/metrics"
	"github.com/ringlink/ringlink-server/internal/notify"
	"github.com/ringlink/ringlink-server/internal/presence"
	"github.com/ringlink/ringlink-server/internal/registry"
	"github.com/ringlink/ringlink-server/internal/signaling"
	"github.com/ringlink/ringlink-server/internal/store"
	"github.com/ringlink/ringlink-server/internal/store/sqlite"
	transporthttp "github.com/ringlink/ringlink-server/internal/transport/http"
	"github.com/ringlink/ringlink-server/internal/transport/ws"
)

// App wires together the signaling core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	caches          *cachemgr.Manager
	store           store.CallStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}

	// External connections first: failures degrade, never abort.
	caches := cachemgr.New(context.Background(), cachemgr.Config{
		Connections:     cfg.CacheConnections,
		Fallbacks:       map[string]string{"presence": "cache"},
		FallbackEnabled: cfg.CacheFallbackEnabled,
	}, log.Component(logger, "cachemgr"))

	var sink presence.Sink
	if cfg.PresenceUseCache {
		client, err := caches.Resolve("presence")
		if err != nil {
			logger.Warn().Err(err).Msg("presence cache unavailable, keeping presence in memory only")
		} else {
			sink = presence.NewRedisSink(client, cfg.PresenceTTL)
		}
	}

	m := metrics.New()
	reg := registry.New(log.Component(logger, "registry"))
	tracker := presence.NewTracker(sink, log.Component(logger, "presence"))

	// All subscriptions happen here; Freeze seals the handler set
	// before the first connection can publish.
	builder := bus.NewBuilder()
	notifyLog := log.Component(logger, "notify")
	notifier := notify.New(nil, nil, notify.LogOnlyPusher{Log: notifyLog}, notifyLog)
	notifier.Register(builder)
	eventBus := builder.Freeze(log.Component(logger, "bus"), m)

	var callStore store.CallStore
	var history signaling.History
	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("call history database initialized")
		callStore = st
		history = st
	}

	mux := ws.NewMux()
	coordinator := signaling.NewCoordinator(reg, mux, log.Component(logger, "signaling"), signaling.Options{
		Bus:     eventBus,
		History: history,
		Stats:   m,
	})

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	wsHandler := ws.NewHandler(mux, reg, tracker, coordinator, verifier, cfg.RingTimeout, m, log.Component(logger, "ws"))

	server := transporthttp.NewServer(transporthttp.Deps{
		Verifier:  verifier,
		Presence:  tracker,
		CallStore: callStore,
		WS:        wsHandler,
		Metrics:   m.Registry(),
	}, cfg, log.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		caches:          caches,
		store:           callStore,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the call store and external connections.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
	if err := a.caches.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close cache connections")
	}
}
