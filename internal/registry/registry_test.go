package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestAddRemoveLookup(t *testing.T) {
	r := New(nil)

	r.AddConnection("alice", "Alice", "conn-1")

	conn, ok := r.GetByConnectionID("conn-1")
	if !ok || conn.UserID != "alice" || conn.DisplayName != "Alice" {
		t.Fatalf("unexpected connection: %+v ok=%v", conn, ok)
	}

	conns := r.GetByUserID("alice")
	if len(conns) != 1 || conns[0].ConnectionID != "conn-1" {
		t.Fatalf("unexpected user connections: %+v", conns)
	}

	removed, remaining, ok := r.RemoveConnection("conn-1")
	if !ok || removed.UserID != "alice" || remaining != 0 {
		t.Fatalf("unexpected remove result: %+v remaining=%d ok=%v", removed, remaining, ok)
	}

	if _, ok := r.GetByConnectionID("conn-1"); ok {
		t.Fatal("connection should be gone after remove")
	}
	if got := r.GetByUserID("alice"); got != nil {
		t.Fatalf("expected no connections, got %+v", got)
	}
}

func TestRemoveUnknownIsNoOp(t *testing.T) {
	r := New(nil)
	if _, _, ok := r.RemoveConnection("ghost"); ok {
		t.Fatal("removing unknown connection must not report success")
	}
}

func TestAddIsIdempotentPerConnectionID(t *testing.T) {
	r := New(nil)
	r.AddConnection("alice", "Alice", "conn-1")
	r.AddConnection("alice", "Alice M.", "conn-1")

	conns := r.GetByUserID("alice")
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	if conns[0].DisplayName != "Alice M." {
		t.Fatalf("re-add should refresh display name, got %q", conns[0].DisplayName)
	}
}

func TestDuplicateConnectionIDLastWriteWins(t *testing.T) {
	r := New(nil)
	r.AddConnection("alice", "Alice", "conn-1")
	r.AddConnection("bob", "Bob", "conn-1")

	conn, ok := r.GetByConnectionID("conn-1")
	if !ok || conn.UserID != "bob" {
		t.Fatalf("expected conn-1 owned by bob, got %+v", conn)
	}
	if got := r.GetByUserID("alice"); got != nil {
		t.Fatalf("alice should have lost conn-1, got %+v", got)
	}
}

func TestMultiDeviceResolution(t *testing.T) {
	r := New(nil)
	r.AddConnection("alice", "Alice", "conn-1")
	r.AddConnection("alice", "Alice", "conn-2")

	if n := r.CountConnections("alice"); n != 2 {
		t.Fatalf("expected 2 connections, got %d", n)
	}

	ids := r.ConnectionIDs("alice")
	if len(ids) != 2 {
		t.Fatalf("expected 2 connection ids, got %v", ids)
	}

	// GetConnectionID resolves to the oldest connection.
	id, ok := r.GetConnectionID("alice")
	if !ok || id != ids[0] {
		t.Fatalf("expected oldest connection %q, got %q", ids[0], id)
	}

	if _, _, ok := r.RemoveConnection("conn-1"); !ok {
		t.Fatal("remove conn-1 failed")
	}
	if n := r.CountConnections("alice"); n != 1 {
		t.Fatalf("expected 1 connection after remove, got %d", n)
	}
}

func TestAvailabilityTracksCallStatus(t *testing.T) {
	r := New(nil)

	if r.IsAvailable("alice") {
		t.Fatal("user with no connections must not be available")
	}

	r.AddConnection("alice", "Alice", "conn-1")
	if !r.IsAvailable("alice") {
		t.Fatal("connected idle user must be available")
	}

	r.UpdateCallStatus("alice", true, "bob")
	if r.IsAvailable("alice") {
		t.Fatal("user in a call must not be available")
	}

	conn, _ := r.GetByConnectionID("conn-1")
	if !conn.IsInCall || conn.CurrentCallPeerID != "bob" {
		t.Fatalf("call status not applied: %+v", conn)
	}

	r.UpdateCallStatus("alice", false, "")
	if !r.IsAvailable("alice") {
		t.Fatal("user must be available after call cleared")
	}
	conn, _ = r.GetByConnectionID("conn-1")
	if conn.CurrentCallPeerID != "" {
		t.Fatalf("peer id should be cleared, got %q", conn.CurrentCallPeerID)
	}
}

func TestTryMarkInCall(t *testing.T) {
	r := New(nil)

	if r.TryMarkInCall("alice", "bob") {
		t.Fatal("disconnected user must not be markable")
	}

	r.AddConnection("alice", "Alice", "conn-1")
	r.AddConnection("alice", "Alice", "conn-2")

	if !r.TryMarkInCall("alice", "bob") {
		t.Fatal("idle user must be markable")
	}
	if r.TryMarkInCall("alice", "carol") {
		t.Fatal("busy user must not be markable again")
	}
	for _, connID := range []string{"conn-1", "conn-2"} {
		conn, _ := r.GetByConnectionID(connID)
		if !conn.IsInCall || conn.CurrentCallPeerID != "bob" {
			t.Fatalf("mark not applied to %s: %+v", connID, conn)
		}
	}

	r.UpdateCallStatus("alice", false, "")
	if !r.TryMarkInCall("alice", "carol") {
		t.Fatal("user must be markable again after the call cleared")
	}
}

func TestTryMarkInCallSingleWinner(t *testing.T) {
	r := New(nil)
	r.AddConnection("bob", "Bob", "conn-1")

	for round := 0; round < 100; round++ {
		const racers = 8
		var (
			start sync.WaitGroup
			done  sync.WaitGroup
			mu    sync.Mutex
		)
		winners := 0
		start.Add(1)
		done.Add(racers)
		for i := 0; i < racers; i++ {
			caller := fmt.Sprintf("caller-%d", i)
			go func() {
				defer done.Done()
				start.Wait()
				if r.TryMarkInCall("bob", caller) {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		start.Done()
		done.Wait()

		if winners != 1 {
			t.Fatalf("round %d: expected exactly one winner, got %d", round, winners)
		}
		r.UpdateCallStatus("bob", false, "")
	}
}

func TestListConnectedIsSnapshot(t *testing.T) {
	r := New(nil)
	r.AddConnection("alice", "Alice", "conn-1")
	r.AddConnection("bob", "Bob", "conn-2")

	seq := r.ListConnected()

	// Mutations after the snapshot must not leak into the sequence.
	r.AddConnection("carol", "Carol", "conn-3")
	r.RemoveConnection("conn-1")

	seen := map[string]bool{}
	for c := range seq {
		seen[c.ConnectionID] = true
	}
	if !seen["conn-1"] || !seen["conn-2"] || seen["conn-3"] {
		t.Fatalf("snapshot not isolated from later mutations: %v", seen)
	}

	// The sequence is restartable.
	count := 0
	for range seq {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 entries on second iteration, got %d", count)
	}
}

func TestConcurrentMutation(t *testing.T) {
	r := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", n%4)
			for j := 0; j < 100; j++ {
				connID := fmt.Sprintf("conn-%d-%d", n, j)
				r.AddConnection(user, user, connID)
				for range r.ListConnected() {
				}
				r.IsAvailable(user)
				r.RemoveConnection(connID)
			}
		}(i)
	}
	wg.Wait()

	for c := range r.ListConnected() {
		t.Fatalf("expected empty registry, found %+v", c)
	}
}
