package cachemgr

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// fakeDialer succeeds for every name except those listed in failing.
func fakeDialer(failing ...string) DialFunc {
	bad := map[string]bool{}
	for _, name := range failing {
		bad[name] = true
	}
	return func(_ context.Context, name, _ string) (*redis.Client, error) {
		if bad[name] {
			return nil, errors.New("connection refused")
		}
		return redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), nil
	}
}

func TestGetReturnsNamedConnection(t *testing.T) {
	cfg := Config{
		Connections: map[string]string{"cache": "redis://valid"},
	}
	m := NewWithDialer(context.Background(), cfg, nil, fakeDialer())
	defer m.Close()

	if _, ok := m.Get("cache"); !ok {
		t.Fatal("expected cache connection")
	}
}

func TestUnknownNameIsAbsentNotFatal(t *testing.T) {
	m := NewWithDialer(context.Background(), Config{}, nil, fakeDialer())
	defer m.Close()

	if _, ok := m.Get("sessions"); ok {
		t.Fatal("unknown name must report absence")
	}
	if _, err := m.Resolve("sessions"); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
}

func TestFallbackRoutesToDesignatedName(t *testing.T) {
	// presence fails to connect; with fallback enabled its lookups
	// transparently land on the cache connection.
	cfg := Config{
		Connections:     map[string]string{"cache": "redis://valid", "presence": "redis://invalid"},
		Fallbacks:       map[string]string{"presence": "cache"},
		FallbackEnabled: true,
	}
	m := NewWithDialer(context.Background(), cfg, nil, fakeDialer("presence"))
	defer m.Close()

	cacheConn, ok := m.Get("cache")
	if !ok {
		t.Fatal("cache connection must exist")
	}
	presenceConn, ok := m.Get("presence")
	if !ok {
		t.Fatal("presence lookup must fall back, not report absence")
	}
	if presenceConn != cacheConn {
		t.Fatal("presence must resolve to the cache connection")
	}
}

func TestFallbackDisabledReportsAbsence(t *testing.T) {
	cfg := Config{
		Connections: map[string]string{"cache": "redis://valid", "presence": "redis://invalid"},
		Fallbacks:   map[string]string{"presence": "cache"},
	}
	m := NewWithDialer(context.Background(), cfg, nil, fakeDialer("presence"))
	defer m.Close()

	if _, ok := m.Get("presence"); ok {
		t.Fatal("fallback must not apply when disabled")
	}
}

func TestDialFailureIsNotFatal(t *testing.T) {
	cfg := Config{
		Connections: map[string]string{"cache": "redis://invalid"},
	}
	m := NewWithDialer(context.Background(), cfg, nil, fakeDialer("cache"))
	defer m.Close()

	if _, ok := m.Get("cache"); ok {
		t.Fatal("failed dial must leave the name absent")
	}
}

func TestFallbackIsSingleHop(t *testing.T) {
	cfg := Config{
		Connections:     map[string]string{"cache": "redis://invalid", "presence": "redis://invalid"},
		Fallbacks:       map[string]string{"presence": "cache", "cache": "presence"},
		FallbackEnabled: true,
	}
	m := NewWithDialer(context.Background(), cfg, nil, fakeDialer("cache", "presence"))
	defer m.Close()

	if _, ok := m.Get("presence"); ok {
		t.Fatal("fallback to an absent name must report absence, not loop")
	}
}
