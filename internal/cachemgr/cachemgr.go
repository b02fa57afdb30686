package cachemgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheUnavailable is returned by Resolve when a named connection
// is absent and no fallback applies. Callers decide whether to degrade
// or fail the operation.
var ErrCacheUnavailable = errors.New("cache connection unavailable")

// Config describes the named external connections to establish.
type Config struct {
	// Connections maps a logical name ("cache", "presence") to a
	// redis connection URL.
	Connections map[string]string
	// Fallbacks routes a name to another name when its own connection
	// is missing, e.g. presence -> cache.
	Fallbacks map[string]string
	// FallbackEnabled turns fallback routing on.
	FallbackEnabled bool
}

// DialFunc establishes one named connection. Tests inject fakes here.
type DialFunc func(ctx context.Context, name, url string) (*redis.Client, error)

// Manager holds long-lived named cache connections, created once at
// start-up and shared read-only by reference. A dial failure is logged,
// never fatal: resolution falls back or reports absence instead.
type Manager struct {
	conns           map[string]*redis.Client
	fallbacks       map[string]string
	fallbackEnabled bool
	log             *zerolog.Logger
}

// New eagerly dials every configured connection with the default
// redis dialer.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) *Manager {
	return NewWithDialer(ctx, cfg, logger, dialRedis)
}

// NewWithDialer is New with an explicit dialer, for tests.
func NewWithDialer(ctx context.Context, cfg Config, logger *zerolog.Logger, dial DialFunc) *Manager {
	m := &Manager{
		conns:           make(map[string]*redis.Client, len(cfg.Connections)),
		fallbacks:       cfg.Fallbacks,
		fallbackEnabled: cfg.FallbackEnabled,
		log:             logger,
	}
	for name, url := range cfg.Connections {
		client, err := dial(ctx, name, url)
		if err != nil {
			if logger != nil {
				logger.Warn().Err(err).Str("cache", name).Msg("cache connection failed, continuing without it")
			}
			continue
		}
		m.conns[name] = client
		if logger != nil {
			logger.Info().Str("cache", name).Msg("cache connection established")
		}
	}
	return m
}

func dialRedis(ctx context.Context, name, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url for %q: %w", name, err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %q: %w", name, err)
	}
	return client, nil
}

// Get resolves a name to its connection, following at most one
// fallback hop when enabled. It never fails loudly: an unknown or
// unavailable name reports absence.
func (m *Manager) Get(name string) (*redis.Client, bool) {
	if c, ok := m.conns[name]; ok {
		return c, true
	}
	if !m.fallbackEnabled {
		return nil, false
	}
	fallback, ok := m.fallbacks[name]
	if !ok {
		return nil, false
	}
	if c, ok := m.conns[fallback]; ok {
		if m.log != nil {
			m.log.Debug().Str("cache", name).Str("fallback", fallback).Msg("cache lookup redirected to fallback")
		}
		return c, true
	}
	return nil, false
}

// Resolve is Get for callers that treat absence as an error.
func (m *Manager) Resolve(name string) (*redis.Client, error) {
	c, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheUnavailable, name)
	}
	return c, nil
}

// Close releases every established connection.
func (m *Manager) Close() error {
	var firstErr error
	for name, c := range m.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %q: %w", name, err)
		}
	}
	return firstErr
}
