package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ringlink/ringlink-server/internal/auth"
	"github.com/ringlink/ringlink-server/internal/proto"
	"github.com/ringlink/ringlink-server/internal/signaling"
)

// handleInbound maps one client frame onto a coordinator operation and
// returns the direct response frame (ack or error), or nil when no
// response is owed.
func (h *Handler) handleInbound(ctx context.Context, claims *auth.Claims, connID string, inbound proto.Inbound) *proto.Outbound {
	switch inbound.Type {
	case proto.InboundTypeCallUser:
		var data proto.CallUserData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed callUser payload")
		}
		if data.TargetUserID == "" || data.SDPOffer == "" {
			return badRequest("target_user_id and sdp_offer are required")
		}
		sess, err := h.coordinator.InitiateCall(ctx, claims.UserID, data.TargetUserID, data.SDPOffer)
		if err != nil {
			return errorFrame(err)
		}
		h.armRingTimer(sess.CallID)
		return ack(inbound.Type, sess.CallID)

	case proto.InboundTypeCallGroup:
		var data proto.CallGroupData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed callGroup payload")
		}
		if data.GroupID == "" || len(data.MemberIDs) == 0 || data.SDPOffer == "" {
			return badRequest("group_id, member_ids and sdp_offer are required")
		}
		sess, err := h.coordinator.InitiateGroupCall(ctx, claims.UserID, data.GroupID, data.MemberIDs, data.SDPOffer)
		if err != nil {
			return errorFrame(err)
		}
		h.armRingTimer(sess.CallID)
		return ack(inbound.Type, sess.CallID)

	case proto.InboundTypeAnswerCall:
		var data proto.AnswerCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed answerCall payload")
		}
		if err := h.coordinator.AnswerCall(ctx, data.CallID, claims.UserID, connID, data.SDPAnswer); err != nil {
			return errorFrame(err)
		}
		return ack(inbound.Type, data.CallID)

	case proto.InboundTypeDeclineCall:
		var data proto.DeclineCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed declineCall payload")
		}
		if err := h.coordinator.DeclineCall(ctx, data.CallID, claims.UserID, data.Reason); err != nil {
			return errorFrame(err)
		}
		return ack(inbound.Type, data.CallID)

	case proto.InboundTypeIceCandidate:
		var data proto.IceCandidateData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed iceCandidate payload")
		}
		cand := signaling.IceCandidate{
			Candidate:     data.Candidate.Candidate,
			SDPMid:        data.Candidate.SDPMid,
			SDPMLineIndex: data.Candidate.SDPMLineIndex,
		}
		if err := h.coordinator.RelayIceCandidate(ctx, data.CallID, claims.UserID, cand); err != nil {
			return errorFrame(err)
		}
		return nil // candidates are high-frequency, no ack

	case proto.InboundTypeEndCall:
		var data proto.EndCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed endCall payload")
		}
		if err := h.coordinator.EndCall(ctx, data.CallID, claims.UserID, data.Reason); err != nil {
			return errorFrame(err)
		}
		return ack(inbound.Type, data.CallID)

	case proto.InboundTypeJoinCall:
		var data proto.JoinCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed joinCall payload")
		}
		if err := h.coordinator.JoinGroupCall(ctx, data.CallID, claims.UserID, connID); err != nil {
			return errorFrame(err)
		}
		return ack(inbound.Type, data.CallID)

	case proto.InboundTypeLeaveCall:
		var data proto.LeaveCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return badRequest("malformed leaveCall payload")
		}
		if err := h.coordinator.LeaveCall(ctx, data.CallID, claims.UserID); err != nil {
			return errorFrame(err)
		}
		return ack(inbound.Type, data.CallID)

	case proto.InboundTypeSetAway:
		h.presence.SetAway(ctx, claims.UserID)
		return ack(inbound.Type, "")

	default:
		return badRequest("unknown message type")
	}
}

// armRingTimer schedules the Ringing -> Missed transition. The timer
// lives here, not in the coordinator; a call that connects or ends in
// time makes the transition an ignorable invalid_state error.
func (h *Handler) armRingTimer(callID string) {
	if h.ringTimeout <= 0 {
		return
	}
	time.AfterFunc(h.ringTimeout, func() {
		if err := h.coordinator.TimeoutCall(context.Background(), callID); err == nil {
			h.log.Info().Str("call_id", callID).Msg("call timed out unanswered")
		}
	})
}

func ack(op, callID string) *proto.Outbound {
	return &proto.Outbound{Type: proto.OutboundTypeAck, Ack: &proto.AckData{Op: op, CallID: callID}}
}

func badRequest(msg string) *proto.Outbound {
	return &proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "bad_request", Msg: msg}}
}

func errorFrame(err error) *proto.Outbound {
	code := signaling.ErrorCode(err)
	if code == "" {
		code = "internal"
	}
	return &proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: err.Error()}}
}
