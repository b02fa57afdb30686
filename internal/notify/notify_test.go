package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/ringlink/ringlink-server/internal/bus"
)

type fakeEmailer struct {
	sent []string
	err  error
}

func (f *fakeEmailer) SendEmail(_ context.Context, to, subject, _ string, _ map[string]string) error {
	f.sent = append(f.sent, to+"/"+subject)
	return f.err
}

type fakePusher struct {
	sent []string
}

func (f *fakePusher) SendPush(_ context.Context, userID, title, _ string) error {
	f.sent = append(f.sent, userID+"/"+title)
	return nil
}

func newTestBus(n *Notifier) *bus.Bus {
	b := bus.NewBuilder()
	n.Register(b)
	return b.Freeze(nil, nil)
}

func TestContactRequestTriggersPush(t *testing.T) {
	push := &fakePusher{}
	dispatcher := newTestBus(New(nil, nil, push, nil))

	dispatcher.Publish(context.Background(), bus.ContactRequestSent{FromUserID: "alice", ToUserID: "bob"})

	if len(push.sent) != 1 || push.sent[0] != "bob/New contact request" {
		t.Fatalf("unexpected pushes: %v", push.sent)
	}
}

func TestRegistrationAndResetTriggerEmail(t *testing.T) {
	email := &fakeEmailer{}
	dispatcher := newTestBus(New(email, nil, nil, nil))
	ctx := context.Background()

	dispatcher.Publish(ctx, bus.UserRegistered{UserID: "u1", Email: "a@example.com", DisplayName: "Alice"})
	dispatcher.Publish(ctx, bus.PasswordResetRequested{UserID: "u1", Email: "a@example.com", ResetToken: "tok"})

	if len(email.sent) != 2 {
		t.Fatalf("expected 2 emails, got %v", email.sent)
	}
	if email.sent[0] != "a@example.com/Welcome" || email.sent[1] != "a@example.com/Password reset" {
		t.Fatalf("unexpected emails: %v", email.sent)
	}
}

func TestExplicitSendRequests(t *testing.T) {
	email := &fakeEmailer{}
	push := &fakePusher{}
	dispatcher := newTestBus(New(email, nil, push, nil))
	ctx := context.Background()

	dispatcher.Publish(ctx, bus.SendEmail{To: "b@example.com", Subject: "Hi"})
	dispatcher.Publish(ctx, bus.SendPushNotification{UserID: "bob", Title: "Ping"})

	if len(email.sent) != 1 || email.sent[0] != "b@example.com/Hi" {
		t.Fatalf("unexpected emails: %v", email.sent)
	}
	if len(push.sent) != 1 || push.sent[0] != "bob/Ping" {
		t.Fatalf("unexpected pushes: %v", push.sent)
	}
}

func TestMissingTransportIsDroppedNotFatal(t *testing.T) {
	dispatcher := newTestBus(New(nil, nil, nil, nil))

	// No transport configured: publishing must not panic or error out
	// of the bus.
	dispatcher.Publish(context.Background(), bus.SendSMS{To: "+100", Body: "hi"})
}

func TestTransportFailureIsIsolatedByBus(t *testing.T) {
	email := &fakeEmailer{err: errors.New("smtp down")}
	push := &fakePusher{}

	b := bus.NewBuilder()
	n := New(email, nil, push, nil)
	n.Register(b)
	ran := false
	b.Subscribe(bus.KindUserRegistered, "audit", func(context.Context, bus.Delivery) error {
		ran = true
		return nil
	})
	dispatcher := b.Freeze(nil, nil)

	dispatcher.Publish(context.Background(), bus.UserRegistered{Email: "a@example.com"})

	if !ran {
		t.Fatal("failing email handler must not block later subscribers")
	}
}
