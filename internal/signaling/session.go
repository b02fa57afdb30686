package signaling

import (
	"context"
	"time"
)

// CallType distinguishes one-to-one calls from group calls.
type CallType string

const (
	CallTypeDirect CallType = "direct"
	CallTypeGroup  CallType = "group"
)

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusDeclined   CallStatus = "declined"
	CallStatusMissed     CallStatus = "missed"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether no further transitions are legal.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusFailed:
		return true
	}
	return false
}

// CallSession is the public snapshot of one call. Exactly one of
// ReceiverID and GroupID is set, depending on Type.
type CallSession struct {
	CallID          string
	CallerID        string
	ReceiverID      string
	GroupID         string
	Type            CallType
	Status          CallStatus
	InitiatedAt     time.Time
	ConnectedAt     *time.Time
	EndedAt         *time.Time
	DurationSeconds int64
	EndReason       string
}

// Participant records one user's membership in a call. It is added
// when the user's signaling handshake completes and marked left on
// explicit leave or disconnect.
type Participant struct {
	CallID       string
	UserID       string
	ConnectionID string
	JoinedAt     time.Time
	LeftAt       *time.Time
	AudioEnabled bool
	VideoEnabled bool
}

// SignalType labels a payload relayed to a connection.
type SignalType string

const (
	SignalOffer             SignalType = "offer"
	SignalAnswer            SignalType = "answer"
	SignalIceCandidate      SignalType = "ice_candidate"
	SignalCallCancelled     SignalType = "call_cancelled"
	SignalCallDeclined      SignalType = "call_declined"
	SignalCallMissed        SignalType = "call_missed"
	SignalCallEnded         SignalType = "call_ended"
	SignalParticipantJoined SignalType = "participant_joined"
	SignalParticipantLeft   SignalType = "participant_left"
)

// IceCandidate is a network path option proposed by one endpoint.
type IceCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Signal is one payload relayed to a resolved connection. The
// coordinator never inspects SDP or candidates, it only forwards them.
type Signal struct {
	Type       SignalType
	CallID     string
	CallType   CallType
	FromUserID string
	FromName   string
	GroupID    string
	SDP        string
	Candidate  *IceCandidate
	Reason     string
}

// Sender delivers a signal to one transport connection. A returned
// error means the transport reports the connection gone; the
// coordinator treats that as the participant leaving.
type Sender interface {
	Send(connectionID string, sig Signal) error
}

// History receives terminal call sessions for durable storage. Writes
// are best effort; signaling state itself stays in-memory.
type History interface {
	SaveCall(ctx context.Context, sess CallSession, participants []Participant) error
}
