package registry

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UserConnection is one live transport session for a user.
// A user may hold several concurrent connections (multi-device).
type UserConnection struct {
	UserID            string
	DisplayName       string
	ConnectionID      string
	ConnectedAt       time.Time
	IsInCall          bool
	CurrentCallPeerID string
}

// Registry maps users to their live transport connections. It is the
// leaf dependency of the signaling stack: presence and the call
// coordinator both consult it, never the other way around.
//
// All methods are safe for concurrent use. Lookups copy records out,
// so a caller can never observe a half-updated connection.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*UserConnection
	byUser map[string]map[string]*UserConnection
	log    *zerolog.Logger
}

// New constructs an empty registry.
func New(logger *zerolog.Logger) *Registry {
	return &Registry{
		byConn: make(map[string]*UserConnection),
		byUser: make(map[string]map[string]*UserConnection),
		log:    logger,
	}
}

// AddConnection registers a live connection for a user. Re-adding the
// same connectionID for the same user refreshes the display name and is
// otherwise a no-op. A duplicate connectionID belonging to a different
// user evicts the previous owner (last write wins) and logs a warning.
func (r *Registry) AddConnection(userID, displayName, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byConn[connectionID]; ok {
		if existing.UserID == userID {
			existing.DisplayName = displayName
			return
		}
		if r.log != nil {
			r.log.Warn().
				Str("conn_id", connectionID).
				Str("prev_user_id", existing.UserID).
				Str("user_id", userID).
				Msg("connection id reused by another user, evicting previous owner")
		}
		r.removeLocked(connectionID)
	}

	conn := &UserConnection{
		UserID:       userID,
		DisplayName:  displayName,
		ConnectionID: connectionID,
		ConnectedAt:  time.Now(),
	}
	r.byConn[connectionID] = conn

	userConns := r.byUser[userID]
	if userConns == nil {
		userConns = make(map[string]*UserConnection)
		r.byUser[userID] = userConns
	}
	userConns[connectionID] = conn
}

// RemoveConnection drops the connection if present. It reports the
// removed record and how many connections remain for that user, so the
// caller can drive presence transitions. Unknown IDs are a no-op.
func (r *Registry) RemoveConnection(connectionID string) (removed UserConnection, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, found := r.byConn[connectionID]
	if !found {
		return UserConnection{}, 0, false
	}
	removed = *conn
	r.removeLocked(connectionID)
	return removed, len(r.byUser[removed.UserID]), true
}

func (r *Registry) removeLocked(connectionID string) {
	conn, ok := r.byConn[connectionID]
	if !ok {
		return
	}
	delete(r.byConn, connectionID)
	if userConns := r.byUser[conn.UserID]; userConns != nil {
		delete(userConns, connectionID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
}

// GetByConnectionID returns a copy of the connection record.
func (r *Registry) GetByConnectionID(connectionID string) (UserConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byConn[connectionID]
	if !ok {
		return UserConnection{}, false
	}
	return *conn, true
}

// GetByUserID returns copies of every live connection for the user,
// oldest first.
func (r *Registry) GetByUserID(userID string) []UserConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.byUser[userID]
	if len(userConns) == 0 {
		return nil
	}
	out := make([]UserConnection, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, *c)
	}
	sortByConnectedAt(out)
	return out
}

// GetConnectionID resolves a user to one connection ID, the oldest one.
// Callers that must reach every device use GetByUserID instead.
func (r *Registry) GetConnectionID(userID string) (string, bool) {
	conns := r.GetByUserID(userID)
	if len(conns) == 0 {
		return "", false
	}
	return conns[0].ConnectionID, true
}

// ConnectionIDs returns the IDs of every live connection for the user.
func (r *Registry) ConnectionIDs(userID string) []string {
	conns := r.GetByUserID(userID)
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ConnectionID)
	}
	return ids
}

// ListConnected returns a lazy sequence over a snapshot of all live
// connections taken at call time. The sequence is restartable and is
// not affected by mutations made after the snapshot.
func (r *Registry) ListConnected() iter.Seq[UserConnection] {
	r.mu.RLock()
	snapshot := make([]UserConnection, 0, len(r.byConn))
	for _, c := range r.byConn {
		snapshot = append(snapshot, *c)
	}
	r.mu.RUnlock()

	return func(yield func(UserConnection) bool) {
		for _, c := range snapshot {
			if !yield(c) {
				return
			}
		}
	}
}

// UpdateCallStatus marks every connection of the user busy or free.
// callWithUserID records the peer while busy; it is cleared otherwise.
func (r *Registry) UpdateCallStatus(userID string, isInCall bool, callWithUserID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.byUser[userID] {
		c.IsInCall = isInCall
		if isInCall {
			c.CurrentCallPeerID = callWithUserID
		} else {
			c.CurrentCallPeerID = ""
		}
	}
}

// TryMarkInCall atomically checks availability and marks the user
// busy with the given peer. It fails when the user has no live
// connection or any connection already reports a call, so two
// concurrent callers racing the same user cannot both win.
func (r *Registry) TryMarkInCall(userID, callWithUserID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns := r.byUser[userID]
	if len(userConns) == 0 {
		return false
	}
	for _, c := range userConns {
		if c.IsInCall {
			return false
		}
	}
	for _, c := range userConns {
		c.IsInCall = true
		c.CurrentCallPeerID = callWithUserID
	}
	return true
}

// IsAvailable reports whether the user has at least one live connection
// and none of them are in a call.
func (r *Registry) IsAvailable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.byUser[userID]
	if len(userConns) == 0 {
		return false
	}
	for _, c := range userConns {
		if c.IsInCall {
			return false
		}
	}
	return true
}

// CountConnections returns the number of live connections for the user.
func (r *Registry) CountConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

func sortByConnectedAt(conns []UserConnection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ConnectionID < conns[j].ConnectionID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
}
