package bus

import (
	"context"
	"errors"
	"testing"
)

func TestPublishFansOutInRegistrationOrder(t *testing.T) {
	b := NewBuilder()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Subscribe(KindUserRegistered, name, func(_ context.Context, d Delivery) error {
			order = append(order, d.Handler)
			return nil
		})
	}
	dispatcher := b.Freeze(nil, nil)

	dispatcher.Publish(context.Background(), UserRegistered{UserID: "u1"})

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected dispatch order: %v", order)
	}
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	dispatcher := NewBuilder().Freeze(nil, nil)

	id := dispatcher.Publish(context.Background(), FileDeleted{FileID: "f1"})
	if id == "" {
		t.Fatal("publish must still assign an event id")
	}
}

func TestFailingHandlerDoesNotStopFanOut(t *testing.T) {
	b := NewBuilder()

	secondRan := false
	b.Subscribe(KindSendEmail, "broken", func(context.Context, Delivery) error {
		return errors.New("smtp down")
	})
	b.Subscribe(KindSendEmail, "working", func(context.Context, Delivery) error {
		secondRan = true
		return nil
	})
	dispatcher := b.Freeze(nil, nil)

	dispatcher.Publish(context.Background(), SendEmail{To: "a@example.com"})

	if !secondRan {
		t.Fatal("second handler must run after first fails")
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := NewBuilder()

	secondRan := false
	b.Subscribe(KindSendSMS, "panics", func(context.Context, Delivery) error {
		panic("boom")
	})
	b.Subscribe(KindSendSMS, "survives", func(context.Context, Delivery) error {
		secondRan = true
		return nil
	})
	dispatcher := b.Freeze(nil, nil)

	dispatcher.Publish(context.Background(), SendSMS{To: "+100"})

	if !secondRan {
		t.Fatal("panic in one handler must not stop fan-out")
	}
}

func TestSubscribeAfterFreezePanics(t *testing.T) {
	b := NewBuilder()
	b.Freeze(nil, nil)

	defer func() {
		if recover() == nil {
			t.Fatal("subscribe after freeze must panic")
		}
	}()
	b.Subscribe(KindUserLoggedIn, "late", func(context.Context, Delivery) error { return nil })
}

func TestEnvelopeIdentity(t *testing.T) {
	b := NewBuilder()

	var got Delivery
	b.Subscribe(KindCallEnded, "capture", func(_ context.Context, d Delivery) error {
		got = d
		return nil
	})
	dispatcher := b.Freeze(nil, nil)

	id := dispatcher.Publish(context.Background(), CallEnded{CallID: "c1", Reason: "hangup"})

	if got.EventID != id || got.Timestamp.IsZero() {
		t.Fatalf("envelope identity not delivered: %+v (want id %s)", got.Envelope, id)
	}
	payload, ok := got.Payload.(CallEnded)
	if !ok || payload.CallID != "c1" || payload.Reason != "hangup" {
		t.Fatalf("unexpected payload: %+v", got.Payload)
	}

	// Two publishes never share an event id.
	if other := dispatcher.Publish(context.Background(), CallEnded{CallID: "c2"}); other == id {
		t.Fatal("event ids must be unique per publish")
	}
}

type countingStats struct {
	published int
	failed    int
}

func (s *countingStats) EventPublished(Kind)        { s.published++ }
func (s *countingStats) HandlerFailed(Kind, string) { s.failed++ }

func TestStatsCounters(t *testing.T) {
	b := NewBuilder()
	b.Subscribe(KindFileShared, "broken", func(context.Context, Delivery) error {
		return errors.New("nope")
	})
	stats := &countingStats{}
	dispatcher := b.Freeze(nil, stats)

	dispatcher.Publish(context.Background(), FileShared{FileID: "f1"})
	dispatcher.Publish(context.Background(), FileDeleted{FileID: "f1"})

	if stats.published != 2 || stats.failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
