package presence

import (
	"context"
	"errors"
	"testing"
)

func TestFirstConnectionGoesOnline(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	if tr.IsOnline("alice") {
		t.Fatal("unknown user must be offline")
	}

	tr.UserConnected(ctx, "alice", "conn-1")
	if !tr.IsOnline("alice") {
		t.Fatal("user must be online after first connection")
	}

	rec := tr.Get("alice")
	if rec.Status != StatusOnline || rec.LastSeen.IsZero() || rec.StatusChangedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestOfflineOnlyOnLastDisconnect(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	tr.UserConnected(ctx, "alice", "conn-1")
	tr.UserConnected(ctx, "alice", "conn-2")

	tr.UserDisconnected(ctx, "alice", "conn-1")
	if !tr.IsOnline("alice") {
		t.Fatal("user with one remaining device must stay online")
	}

	tr.UserDisconnected(ctx, "alice", "conn-2")
	if tr.IsOnline("alice") {
		t.Fatal("user must be offline after last disconnect")
	}
	if rec := tr.Get("alice"); rec.Status != StatusOffline {
		t.Fatalf("expected offline record, got %+v", rec)
	}
}

func TestDisconnectUnknownConnectionIsNoOp(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	tr.UserConnected(ctx, "alice", "conn-1")
	tr.UserDisconnected(ctx, "alice", "ghost")
	if !tr.IsOnline("alice") {
		t.Fatal("unknown disconnect must not change presence")
	}
}

func TestAwayOverride(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	if tr.SetAway(ctx, "alice") {
		t.Fatal("away must not apply to a disconnected user")
	}

	tr.UserConnected(ctx, "alice", "conn-1")
	if !tr.SetAway(ctx, "alice") {
		t.Fatal("away should apply to a connected user")
	}
	if tr.IsOnline("alice") {
		t.Fatal("away user must not report online")
	}
	if rec := tr.Get("alice"); rec.Status != StatusAway {
		t.Fatalf("expected away record, got %+v", rec)
	}

	// A fresh connection clears the override.
	tr.UserConnected(ctx, "alice", "conn-2")
	if !tr.IsOnline("alice") {
		t.Fatal("new connection must clear away override")
	}
}

func TestListOnlineUserIDs(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	tr.UserConnected(ctx, "bob", "conn-2")
	tr.UserConnected(ctx, "alice", "conn-1")
	tr.UserConnected(ctx, "carol", "conn-3")
	tr.UserDisconnected(ctx, "carol", "conn-3")

	ids := tr.ListOnlineUserIDs()
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Fatalf("unexpected online ids: %v", ids)
	}

	// Away users drop out of the list, matching IsOnline.
	tr.SetAway(ctx, "bob")
	ids = tr.ListOnlineUserIDs()
	if len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("away user must not be listed online: %v", ids)
	}
	if tr.IsOnline("bob") {
		t.Fatal("IsOnline must agree with ListOnlineUserIDs for away users")
	}
}

type recordingSink struct {
	records []Record
	err     error
}

func (s *recordingSink) Store(_ context.Context, rec Record) error {
	s.records = append(s.records, rec)
	return s.err
}

func TestSinkReceivesSnapshots(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, nil)
	ctx := context.Background()

	tr.UserConnected(ctx, "alice", "conn-1")
	tr.UserDisconnected(ctx, "alice", "conn-1")

	if len(sink.records) != 2 {
		t.Fatalf("expected 2 sink writes, got %d", len(sink.records))
	}
	if sink.records[0].Status != StatusOnline || sink.records[1].Status != StatusOffline {
		t.Fatalf("unexpected sink sequence: %+v", sink.records)
	}
}

func TestSinkFailureDoesNotAffectState(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	tr := NewTracker(sink, nil)
	ctx := context.Background()

	tr.UserConnected(ctx, "alice", "conn-1")
	if !tr.IsOnline("alice") {
		t.Fatal("sink failure must not affect in-memory presence")
	}
}
