package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ringlink/ringlink-server/internal/signaling"
	"github.com/ringlink/ringlink-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	call_id          TEXT PRIMARY KEY,
	caller_id        TEXT NOT NULL,
	receiver_id      TEXT,
	group_id         TEXT,
	call_type        TEXT NOT NULL,
	status           TEXT NOT NULL,
	initiated_at     INTEGER NOT NULL,
	connected_at     INTEGER,
	ended_at         INTEGER,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	end_reason       TEXT
);

CREATE TABLE IF NOT EXISTS call_participants (
	call_id       TEXT NOT NULL REFERENCES calls(call_id),
	user_id       TEXT NOT NULL,
	connection_id TEXT,
	joined_at     INTEGER NOT NULL,
	left_at       INTEGER,
	audio_enabled INTEGER NOT NULL DEFAULT 1,
	video_enabled INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (call_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_user ON call_participants(user_id);
`

// Store implements store.CallStore on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCall writes a terminal session and its participants in one
// transaction. Re-saving the same call replaces the previous rows.
func (s *Store) SaveCall(ctx context.Context, sess signaling.CallSession, participants []signaling.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO calls
			(call_id, caller_id, receiver_id, group_id, call_type, status,
			 initiated_at, connected_at, ended_at, duration_seconds, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.CallID, sess.CallerID,
		nullString(sess.ReceiverID), nullString(sess.GroupID),
		string(sess.Type), string(sess.Status),
		sess.InitiatedAt.Unix(), nullTime(sess.ConnectedAt), nullTime(sess.EndedAt),
		sess.DurationSeconds, nullString(sess.EndReason),
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM call_participants WHERE call_id = ?`, sess.CallID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for _, p := range participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO call_participants
				(call_id, user_id, connection_id, joined_at, left_at, audio_enabled, video_enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.CallID, p.UserID, nullString(p.ConnectionID),
			p.JoinedAt.Unix(), nullTime(p.LeftAt),
			boolToInt(p.AudioEnabled), boolToInt(p.VideoEnabled),
		)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetCall retrieves one stored call.
func (s *Store) GetCall(ctx context.Context, callID string) (*signaling.CallSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT call_id, caller_id, receiver_id, group_id, call_type, status,
		       initiated_at, connected_at, ended_at, duration_seconds, end_reason
		FROM calls WHERE call_id = ?`, callID)

	sess, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return sess, nil
}

// ListRecentCalls returns the newest finished calls the user took part
// in, either as caller, direct receiver or group participant.
func (s *Store) ListRecentCalls(ctx context.Context, userID string, limit int) ([]signaling.CallSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.call_id, c.caller_id, c.receiver_id, c.group_id, c.call_type, c.status,
		       c.initiated_at, c.connected_at, c.ended_at, c.duration_seconds, c.end_reason
		FROM calls c
		LEFT JOIN call_participants p ON p.call_id = c.call_id
		WHERE c.caller_id = ? OR c.receiver_id = ? OR p.user_id = ?
		ORDER BY c.initiated_at DESC
		LIMIT ?`, userID, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent calls: %w", err)
	}
	defer rows.Close()

	var out []signaling.CallSession
	for rows.Next() {
		sess, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*signaling.CallSession, error) {
	var (
		sess                 signaling.CallSession
		receiver, group      sql.NullString
		reason               sql.NullString
		initiated            int64
		connected, ended     sql.NullInt64
		callType, callStatus string
	)
	err := row.Scan(&sess.CallID, &sess.CallerID, &receiver, &group, &callType, &callStatus,
		&initiated, &connected, &ended, &sess.DurationSeconds, &reason)
	if err != nil {
		return nil, err
	}
	sess.ReceiverID = receiver.String
	sess.GroupID = group.String
	sess.Type = signaling.CallType(callType)
	sess.Status = signaling.CallStatus(callStatus)
	sess.InitiatedAt = time.Unix(initiated, 0)
	if connected.Valid {
		t := time.Unix(connected.Int64, 0)
		sess.ConnectedAt = &t
	}
	if ended.Valid {
		t := time.Unix(ended.Int64, 0)
		sess.EndedAt = &t
	}
	sess.EndReason = reason.String
	return &sess, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
