package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeCallUser     = "callUser"
	InboundTypeCallGroup    = "callGroup"
	InboundTypeAnswerCall   = "answerCall"
	InboundTypeDeclineCall  = "declineCall"
	InboundTypeIceCandidate = "iceCandidate"
	InboundTypeEndCall      = "endCall"
	InboundTypeJoinCall     = "joinCall"
	InboundTypeLeaveCall    = "leaveCall"
	InboundTypeSetAway      = "setAway"

	OutboundTypeSignal = "signal"
	OutboundTypeAck    = "ack"
	OutboundTypeError  = "error"
)

// CallUserData initiates a direct call to another user.
type CallUserData struct {
	TargetUserID string `json:"target_user_id"`
	SDPOffer     string `json:"sdp_offer"`
}

// CallGroupData initiates a group call. Member IDs are resolved by the
// client's contact/room service before signaling.
type CallGroupData struct {
	GroupID   string   `json:"group_id"`
	MemberIDs []string `json:"member_ids"`
	SDPOffer  string   `json:"sdp_offer"`
}

// AnswerCallData accepts a ringing call.
type AnswerCallData struct {
	CallID    string `json:"call_id"`
	SDPAnswer string `json:"sdp_answer"`
}

// DeclineCallData rejects a ringing call.
type DeclineCallData struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

// IceCandidateData forwards one ICE candidate to the call peer(s).
type IceCandidateData struct {
	CallID    string    `json:"call_id"`
	Candidate Candidate `json:"candidate"`
}

// Candidate mirrors the browser RTCIceCandidate shape.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// EndCallData hangs up a call in any non-terminal state.
type EndCallData struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

// JoinCallData joins an ongoing group call.
type JoinCallData struct {
	CallID string `json:"call_id"`
}

// LeaveCallData leaves a group call without ending it for the others.
type LeaveCallData struct {
	CallID string `json:"call_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type   string      `json:"type"`
	Signal *SignalData `json:"signal,omitempty"`
	Ack    *AckData    `json:"ack,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// SignalData is a relayed signaling payload.
type SignalData struct {
	Signal     string     `json:"signal"`
	CallID     string     `json:"call_id"`
	CallType   string     `json:"call_type,omitempty"`
	FromUserID string     `json:"from_user_id,omitempty"`
	FromName   string     `json:"from_name,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`
	SDP        string     `json:"sdp,omitempty"`
	Candidate  *Candidate `json:"candidate,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// AckData confirms an inbound request, carrying the call ID assigned
// to a fresh initiate.
type AckData struct {
	Op     string `json:"op"`
	CallID string `json:"call_id,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
