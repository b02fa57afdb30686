package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the advisory online state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
)

// Record is the derived presence state for one user. It is fully
// driven by connection lifecycle events except for the explicit Away
// override.
type Record struct {
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	LastSeen        time.Time `json:"last_seen"`
	StatusChangedAt time.Time `json:"status_changed_at"`
}

// Sink receives presence snapshots for external storage. Writes are
// best effort: a sink failure never affects the in-memory state.
type Sink interface {
	Store(ctx context.Context, rec Record) error
}

// Tracker derives per-user presence from connection events. A user is
// Online while at least one connection is live; the transition to
// Offline is reference counted, not edge triggered, so closing one of
// two devices keeps the user Online.
//
// Presence is advisory. A transport session that dies without
// signalling disconnect leaves a stale Online record until an external
// liveness mechanism expires it.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	conns   map[string]map[string]struct{} // userID -> live connection IDs
	sink    Sink
	log     *zerolog.Logger
}

// NewTracker builds a tracker. sink may be nil.
func NewTracker(sink Sink, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		conns:   make(map[string]map[string]struct{}),
		sink:    sink,
		log:     logger,
	}
}

// UserConnected records a live connection. The first connection for a
// user transitions them to Online; later ones only bump LastSeen. A
// connect always clears an Away override.
func (t *Tracker) UserConnected(ctx context.Context, userID, connectionID string) {
	now := time.Now()

	t.mu.Lock()
	set := t.conns[userID]
	if set == nil {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connectionID] = struct{}{}

	rec := t.records[userID]
	if rec == nil {
		rec = &Record{UserID: userID}
		t.records[userID] = rec
	}
	rec.LastSeen = now
	if rec.Status != StatusOnline {
		rec.Status = StatusOnline
		rec.StatusChangedAt = now
	}
	snapshot := *rec
	t.mu.Unlock()

	t.flush(ctx, snapshot)
}

// UserDisconnected drops one connection. The user goes Offline only
// when their last connection is removed. Unknown connections are a
// no-op.
func (t *Tracker) UserDisconnected(ctx context.Context, userID, connectionID string) {
	now := time.Now()

	t.mu.Lock()
	set := t.conns[userID]
	if set == nil {
		t.mu.Unlock()
		return
	}
	if _, ok := set[connectionID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(set, connectionID)

	rec := t.records[userID]
	if rec == nil {
		rec = &Record{UserID: userID}
		t.records[userID] = rec
	}
	rec.LastSeen = now
	if len(set) == 0 {
		delete(t.conns, userID)
		rec.Status = StatusOffline
		rec.StatusChangedAt = now
	}
	snapshot := *rec
	t.mu.Unlock()

	t.flush(ctx, snapshot)
}

// SetAway applies the explicit Away override. It only applies to users
// that currently have at least one connection.
func (t *Tracker) SetAway(ctx context.Context, userID string) bool {
	now := time.Now()

	t.mu.Lock()
	if len(t.conns[userID]) == 0 {
		t.mu.Unlock()
		return false
	}
	rec := t.records[userID]
	if rec.Status != StatusAway {
		rec.Status = StatusAway
		rec.StatusChangedAt = now
	}
	snapshot := *rec
	t.mu.Unlock()

	t.flush(ctx, snapshot)
	return true
}

// IsOnline reports whether the user currently has a live connection
// and is not marked Away. This is the same notion of online that
// ListOnlineUserIDs uses.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return ok && rec.Status == StatusOnline
}

// Get returns the presence record for a user. Users never seen report
// Offline with zero timestamps.
func (t *Tracker) Get(userID string) Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rec, ok := t.records[userID]; ok {
		return *rec
	}
	return Record{UserID: userID, Status: StatusOffline}
}

// ListOnlineUserIDs returns the IDs of all users for whom IsOnline
// holds, sorted for stable output. Away users are excluded; they are
// connected but have opted out of being reported online.
func (t *Tracker) ListOnlineUserIDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.conns))
	for userID := range t.conns {
		if rec, ok := t.records[userID]; ok && rec.Status == StatusOnline {
			ids = append(ids, userID)
		}
	}
	t.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// flush pushes a snapshot to the sink outside the tracker lock.
func (t *Tracker) flush(ctx context.Context, rec Record) {
	if t.sink == nil {
		return
	}
	if err := t.sink.Store(ctx, rec); err != nil && t.log != nil {
		t.log.Warn().Err(err).Str("user_id", rec.UserID).Msg("presence sink write failed")
	}
}
