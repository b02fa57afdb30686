package bus

import "time"

// Payload kinds handled by this process.
const (
	KindContactRequestSent     Kind = "contact_request_sent"
	KindContactRequestAccepted Kind = "contact_request_accepted"
	KindUserRegistered         Kind = "user_registered"
	KindUserLoggedIn           Kind = "user_logged_in"
	KindUserLoggedOut          Kind = "user_logged_out"
	KindPasswordResetRequested Kind = "password_reset_requested"
	KindFileUploaded           Kind = "file_uploaded"
	KindFileShared             Kind = "file_shared"
	KindFileDeleted            Kind = "file_deleted"
	KindCallInitiated          Kind = "call_initiated"
	KindCallConnected          Kind = "call_connected"
	KindCallEnded              Kind = "call_ended"
	KindSendEmail              Kind = "send_email"
	KindSendSMS                Kind = "send_sms"
	KindSendPushNotification   Kind = "send_push_notification"
)

// ContactRequestSent is published when a user asks another to connect.
type ContactRequestSent struct {
	FromUserID string
	ToUserID   string
	Message    string
}

func (ContactRequestSent) Kind() Kind { return KindContactRequestSent }

// ContactRequestAccepted is published when a pending request is accepted.
type ContactRequestAccepted struct {
	FromUserID string
	ToUserID   string
}

func (ContactRequestAccepted) Kind() Kind { return KindContactRequestAccepted }

// UserRegistered is published after account creation completes.
type UserRegistered struct {
	UserID      string
	DisplayName string
	Email       string
}

func (UserRegistered) Kind() Kind { return KindUserRegistered }

// UserLoggedIn marks a successful login.
type UserLoggedIn struct {
	UserID string
}

func (UserLoggedIn) Kind() Kind { return KindUserLoggedIn }

// UserLoggedOut marks an explicit logout.
type UserLoggedOut struct {
	UserID string
}

func (UserLoggedOut) Kind() Kind { return KindUserLoggedOut }

// PasswordResetRequested carries the reset token handed to the mailer.
type PasswordResetRequested struct {
	UserID     string
	Email      string
	ResetToken string
}

func (PasswordResetRequested) Kind() Kind { return KindPasswordResetRequested }

// FileUploaded is published when an upload finishes.
type FileUploaded struct {
	FileID      string
	OwnerUserID string
	Name        string
	SizeBytes   int64
}

func (FileUploaded) Kind() Kind { return KindFileUploaded }

// FileShared is published when a file is shared with another user.
type FileShared struct {
	FileID       string
	OwnerUserID  string
	SharedWithID string
	Name         string
}

func (FileShared) Kind() Kind { return KindFileShared }

// FileDeleted is published when a file is removed.
type FileDeleted struct {
	FileID      string
	OwnerUserID string
}

func (FileDeleted) Kind() Kind { return KindFileDeleted }

// CallInitiated is published when a call session is created.
type CallInitiated struct {
	CallID     string
	CallerID   string
	ReceiverID string
	GroupID    string
}

func (CallInitiated) Kind() Kind { return KindCallInitiated }

// CallConnected is published on the Ringing to Connected transition.
type CallConnected struct {
	CallID   string
	CallerID string
}

func (CallConnected) Kind() Kind { return KindCallConnected }

// CallEnded is published when a session reaches a terminal state.
type CallEnded struct {
	CallID          string
	Status          string
	Reason          string
	DurationSeconds int64
}

func (CallEnded) Kind() Kind { return KindCallEnded }

// SendEmail requests an outbound email. Delivery and retry belong to
// the subscribed email handler, not the bus.
type SendEmail struct {
	To       string
	Subject  string
	Template string
	Data     map[string]string
}

func (SendEmail) Kind() Kind { return KindSendEmail }

// SendSMS requests an outbound text message.
type SendSMS struct {
	To   string
	Body string
}

func (SendSMS) Kind() Kind { return KindSendSMS }

// SendPushNotification requests an outbound push notification.
type SendPushNotification struct {
	UserID string
	Title  string
	Body   string
	SentAt time.Time
}

func (SendPushNotification) Kind() Kind { return KindSendPushNotification }
