// Package notify wires domain events to outbound notification
// channels. Handlers here are bus subscribers registered during the
// start-up phase; the actual email/SMS/push transports live behind
// interfaces and are provided by the host process.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/bus"
)

// Emailer sends one email. Retries and durable queueing are the
// implementation's concern, not the bus's.
type Emailer interface {
	SendEmail(ctx context.Context, to, subject, template string, data map[string]string) error
}

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Pusher sends one push notification to all of a user's devices.
type Pusher interface {
	SendPush(ctx context.Context, userID, title, body string) error
}

// Notifier owns the translation from domain events to outbound
// notification requests, and the delivery handlers that consume them.
type Notifier struct {
	email Emailer
	sms   SMSSender
	push  Pusher
	log   *zerolog.Logger
}

// New builds a notifier. Any transport may be nil; the corresponding
// deliveries are then dropped with a debug log.
func New(email Emailer, sms SMSSender, push Pusher, logger *zerolog.Logger) *Notifier {
	return &Notifier{email: email, sms: sms, push: push, log: logger}
}

// Register subscribes every handler on the builder. Must run before
// the bus is frozen.
func (n *Notifier) Register(b *bus.Builder) {
	// Domain events fan into notification requests. Publishing back
	// onto the bus from inside a handler would reorder deliveries, so
	// translation handlers call the transports directly.
	b.Subscribe(bus.KindContactRequestSent, "notify.contact_request", n.onContactRequestSent)
	b.Subscribe(bus.KindContactRequestAccepted, "notify.contact_accepted", n.onContactRequestAccepted)
	b.Subscribe(bus.KindUserRegistered, "notify.welcome_email", n.onUserRegistered)
	b.Subscribe(bus.KindPasswordResetRequested, "notify.password_reset", n.onPasswordReset)
	b.Subscribe(bus.KindFileShared, "notify.file_shared", n.onFileShared)

	// Explicit notification requests published by other components.
	b.Subscribe(bus.KindSendEmail, "notify.email", n.onSendEmail)
	b.Subscribe(bus.KindSendSMS, "notify.sms", n.onSendSMS)
	b.Subscribe(bus.KindSendPushNotification, "notify.push", n.onSendPush)
}

func (n *Notifier) onContactRequestSent(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.ContactRequestSent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendPush(ctx, p.ToUserID, "New contact request",
		fmt.Sprintf("%s wants to connect with you", p.FromUserID))
}

func (n *Notifier) onContactRequestAccepted(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.ContactRequestAccepted)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendPush(ctx, p.FromUserID, "Contact request accepted",
		fmt.Sprintf("%s accepted your contact request", p.ToUserID))
}

func (n *Notifier) onUserRegistered(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.UserRegistered)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendEmail(ctx, p.Email, "Welcome", "welcome", map[string]string{
		"display_name": p.DisplayName,
	})
}

func (n *Notifier) onPasswordReset(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.PasswordResetRequested)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendEmail(ctx, p.Email, "Password reset", "password_reset", map[string]string{
		"reset_token": p.ResetToken,
	})
}

func (n *Notifier) onFileShared(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.FileShared)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendPush(ctx, p.SharedWithID, "File shared with you", p.Name)
}

func (n *Notifier) onSendEmail(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.SendEmail)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendEmail(ctx, p.To, p.Subject, p.Template, p.Data)
}

func (n *Notifier) onSendSMS(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.SendSMS)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	if n.sms == nil {
		n.drop("sms")
		return nil
	}
	return n.sms.SendSMS(ctx, p.To, p.Body)
}

func (n *Notifier) onSendPush(ctx context.Context, d bus.Delivery) error {
	p, ok := d.Payload.(bus.SendPushNotification)
	if !ok {
		return fmt.Errorf("unexpected payload %T", d.Payload)
	}
	return n.sendPush(ctx, p.UserID, p.Title, p.Body)
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, template string, data map[string]string) error {
	if n.email == nil {
		n.drop("email")
		return nil
	}
	return n.email.SendEmail(ctx, to, subject, template, data)
}

func (n *Notifier) sendPush(ctx context.Context, userID, title, body string) error {
	if n.push == nil {
		n.drop("push")
		return nil
	}
	return n.push.SendPush(ctx, userID, title, body)
}

func (n *Notifier) drop(channel string) {
	if n.log != nil {
		n.log.Debug().Str("channel", channel).Msg("notification transport not configured, dropping")
	}
}

// LogOnlyPusher is the default push transport: it records the request
// in the log and nothing else. Useful in development and tests.
type LogOnlyPusher struct {
	Log *zerolog.Logger
}

func (p LogOnlyPusher) SendPush(_ context.Context, userID, title, body string) error {
	if p.Log != nil {
		p.Log.Info().
			Str("user_id", userID).
			Str("title", title).
			Str("body", body).
			Time("at", time.Now()).
			Msg("push notification")
	}
	return nil
}
