package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind tags a payload type. The set of kinds is closed: dispatch is
// keyed by tag, never by reflection.
type Kind string

// Payload is an immutable domain fact. Implementations are plain value
// structs; each handler receives its own copy.
type Payload interface {
	Kind() Kind
}

// Envelope wraps a payload with its publish identity.
type Envelope struct {
	EventID   string
	Timestamp time.Time
	Payload   Payload
}

// Delivery is the per-dispatch context handed to one handler: the
// envelope copy plus the identity it was registered under.
type Delivery struct {
	Envelope
	Handler string
}

// HandlerFunc consumes one delivery. Errors (and panics) are isolated
// at the dispatch boundary and never reach the publisher.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Stats receives dispatch counters. Nil-safe via the noopStats default.
type Stats interface {
	EventPublished(kind Kind)
	HandlerFailed(kind Kind, handler string)
}

type noopStats struct{}

func (noopStats) EventPublished(Kind)        {}
func (noopStats) HandlerFailed(Kind, string) {}

type subscription struct {
	name string
	fn   HandlerFunc
}

// Builder collects subscriptions during process start-up. Freeze seals
// the routing table; Subscribe afterwards panics.
type Builder struct {
	routes map[Kind][]subscription
	frozen bool
}

// NewBuilder returns an empty subscription builder.
func NewBuilder() *Builder {
	return &Builder{routes: make(map[Kind][]subscription)}
}

// Subscribe registers a named handler for a payload kind. Handlers for
// one kind run in registration order.
func (b *Builder) Subscribe(kind Kind, name string, fn HandlerFunc) {
	if b.frozen {
		panic(fmt.Sprintf("bus: subscribe %q for %q after freeze", name, kind))
	}
	if fn == nil {
		panic(fmt.Sprintf("bus: nil handler %q for %q", name, kind))
	}
	b.routes[kind] = append(b.routes[kind], subscription{name: name, fn: fn})
}

// Freeze seals the builder and returns the dispatcher. The routing
// table is immutable from here on, so Publish reads it without locks.
func (b *Builder) Freeze(logger *zerolog.Logger, stats Stats) *Bus {
	b.frozen = true
	if stats == nil {
		stats = noopStats{}
	}
	routes := make(map[Kind][]subscription, len(b.routes))
	for kind, subs := range b.routes {
		routes[kind] = append([]subscription(nil), subs...)
	}
	return &Bus{routes: routes, log: logger, stats: stats}
}

// Bus fans published events out to subscribed handlers. Delivery is
// in-process, at-most-once and non-persistent; durable delivery is the
// handler's own concern.
type Bus struct {
	routes map[Kind][]subscription
	log    *zerolog.Logger
	stats  Stats
}

// Publish delivers the payload to every handler registered for its
// kind, in registration order. A failing handler is logged and skipped;
// the remaining handlers still run. Publishing a kind nobody subscribed
// to is a no-op. The assigned event ID is returned for correlation.
func (b *Bus) Publish(ctx context.Context, payload Payload) string {
	env := Envelope{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	kind := payload.Kind()
	b.stats.EventPublished(kind)

	for _, sub := range b.routes[kind] {
		b.dispatch(ctx, kind, sub, env)
	}
	return env.EventID
}

func (b *Bus) dispatch(ctx context.Context, kind Kind, sub subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.HandlerFailed(kind, sub.name)
			if b.log != nil {
				b.log.Error().
					Str("event_id", env.EventID).
					Str("kind", string(kind)).
					Str("handler", sub.name).
					Interface("panic", r).
					Msg("event handler panicked")
			}
		}
	}()

	if err := sub.fn(ctx, Delivery{Envelope: env, Handler: sub.name}); err != nil {
		b.stats.HandlerFailed(kind, sub.name)
		if b.log != nil {
			b.log.Error().
				Err(err).
				Str("event_id", env.EventID).
				Str("kind", string(kind)).
				Str("handler", sub.name).
				Msg("event handler failed")
		}
	}
}
