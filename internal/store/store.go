package store

import (
	"context"
	"errors"

	"github.com/ringlink/ringlink-server/internal/signaling"
)

// ErrCallNotFound reports a history lookup miss.
var ErrCallNotFound = errors.New("call not found")

// CallStore persists terminal call sessions for history queries.
// Live signaling state never touches storage; only finished calls are
// written, best effort.
type CallStore interface {
	// SaveCall writes a terminal session with its participants.
	SaveCall(ctx context.Context, sess signaling.CallSession, participants []signaling.Participant) error

	// GetCall retrieves a stored call by ID.
	GetCall(ctx context.Context, callID string) (*signaling.CallSession, error)

	// ListRecentCalls lists the newest finished calls a user took part
	// in, most recent first.
	ListRecentCalls(ctx context.Context, userID string, limit int) ([]signaling.CallSession, error)

	// Close closes the underlying database connection.
	Close() error
}
