package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ringlink/ringlink-server/internal/auth"
	"github.com/ringlink/ringlink-server/internal/presence"
	"github.com/ringlink/ringlink-server/internal/proto"
	"github.com/ringlink/ringlink-server/internal/registry"
	"github.com/ringlink/ringlink-server/internal/signaling"
)

func TestMuxSendToUnknownConnectionFails(t *testing.T) {
	m := NewMux()
	if err := m.Send("ghost", signaling.Signal{Type: signaling.SignalOffer}); err == nil {
		t.Fatal("send to unknown connection must report the transport gone")
	}
}

func TestMuxDeliversAndUnregisters(t *testing.T) {
	m := NewMux()
	ch := m.Register("conn-1")

	sig := signaling.Signal{
		Type:   signaling.SignalIceCandidate,
		CallID: "c1",
		Candidate: &signaling.IceCandidate{
			Candidate: "cand1", SDPMid: "0", SDPMLineIndex: 0,
		},
	}
	if err := m.Send("conn-1", sig); err != nil {
		t.Fatalf("send: %v", err)
	}

	out := <-ch
	if out.Type != proto.OutboundTypeSignal || out.Signal == nil {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if out.Signal.Signal != string(signaling.SignalIceCandidate) || out.Signal.Candidate.Candidate != "cand1" {
		t.Fatalf("candidate mapping lost: %+v", out.Signal)
	}

	m.Unregister("conn-1")
	if _, ok := <-ch; ok {
		t.Fatal("queue must be closed after unregister")
	}
	if err := m.Send("conn-1", sig); err == nil {
		t.Fatal("send after unregister must fail")
	}
}

func TestMuxDropsWhenQueueFull(t *testing.T) {
	m := NewMux()
	m.Register("conn-1")

	// Nothing drains the queue; sends beyond the buffer must neither
	// block nor error.
	sig := signaling.Signal{Type: signaling.SignalOffer, CallID: "c1"}
	for i := 0; i < outboundBuffer*2; i++ {
		if err := m.Send("conn-1", sig); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
}

func TestMuxEnqueueDeliversReplies(t *testing.T) {
	m := NewMux()
	ch := m.Register("conn-1")

	ack := proto.Outbound{Type: proto.OutboundTypeAck, Ack: &proto.AckData{CallID: "c1"}}
	m.Enqueue("conn-1", ack)

	out := <-ch
	if out.Type != proto.OutboundTypeAck || out.Ack == nil || out.Ack.CallID != "c1" {
		t.Fatalf("unexpected frame: %+v", out)
	}

	// Unknown connections and full queues are both silent no-ops.
	m.Enqueue("ghost", ack)
	for i := 0; i < outboundBuffer*2; i++ {
		m.Enqueue("conn-1", ack)
	}
}

func newTestHandler(t *testing.T) (*Handler, *Mux, *registry.Registry) {
	t.Helper()
	m := NewMux()
	reg := registry.New(nil)
	pres := presence.NewTracker(nil, nil)
	coord := signaling.NewCoordinator(reg, m, nil, signaling.Options{})
	return NewHandler(m, reg, pres, coord, nil, 0, nil, nil), m, reg
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleInboundCallFlow(t *testing.T) {
	h, m, reg := newTestHandler(t)
	ctx := context.Background()

	// Both parties "connected" at the transport level.
	aliceEvents := m.Register("conn-a")
	bobEvents := m.Register("conn-b")
	reg.AddConnection("alice", "Alice", "conn-a")
	reg.AddConnection("bob", "Bob", "conn-b")

	alice := &auth.Claims{UserID: "alice", DisplayName: "Alice"}
	bob := &auth.Claims{UserID: "bob", DisplayName: "Bob"}

	out := h.handleInbound(ctx, alice, "conn-a", proto.Inbound{
		Type: proto.InboundTypeCallUser,
		Data: marshal(t, proto.CallUserData{TargetUserID: "bob", SDPOffer: "sdp-A"}),
	})
	if out == nil || out.Type != proto.OutboundTypeAck || out.Ack.CallID == "" {
		t.Fatalf("expected ack with call id, got %+v", out)
	}
	callID := out.Ack.CallID

	offer := <-bobEvents
	if offer.Signal == nil || offer.Signal.Signal != string(signaling.SignalOffer) || offer.Signal.SDP != "sdp-A" {
		t.Fatalf("bob did not receive the offer: %+v", offer)
	}

	out = h.handleInbound(ctx, bob, "conn-b", proto.Inbound{
		Type: proto.InboundTypeAnswerCall,
		Data: marshal(t, proto.AnswerCallData{CallID: callID, SDPAnswer: "sdp-B"}),
	})
	if out == nil || out.Type != proto.OutboundTypeAck {
		t.Fatalf("expected answer ack, got %+v", out)
	}

	answer := <-aliceEvents
	if answer.Signal == nil || answer.Signal.SDP != "sdp-B" {
		t.Fatalf("alice did not receive the answer: %+v", answer)
	}

	out = h.handleInbound(ctx, bob, "conn-b", proto.Inbound{
		Type: proto.InboundTypeEndCall,
		Data: marshal(t, proto.EndCallData{CallID: callID, Reason: "hangup"}),
	})
	if out == nil || out.Type != proto.OutboundTypeAck {
		t.Fatalf("expected end ack, got %+v", out)
	}

	ended := <-aliceEvents
	if ended.Signal == nil || ended.Signal.Signal != string(signaling.SignalCallEnded) || ended.Signal.Reason != "hangup" {
		t.Fatalf("alice did not receive call end: %+v", ended)
	}
}

func TestHandleInboundErrors(t *testing.T) {
	h, _, reg := newTestHandler(t)
	ctx := context.Background()
	alice := &auth.Claims{UserID: "alice"}
	reg.AddConnection("alice", "Alice", "conn-a")

	out := h.handleInbound(ctx, alice, "conn-a", proto.Inbound{
		Type: proto.InboundTypeCallUser,
		Data: marshal(t, proto.CallUserData{TargetUserID: "nobody", SDPOffer: "sdp"}),
	})
	if out == nil || out.Error == nil || out.Error.Code != signaling.ErrCodeUserUnavailable {
		t.Fatalf("expected user_unavailable error frame, got %+v", out)
	}

	out = h.handleInbound(ctx, alice, "conn-a", proto.Inbound{
		Type: proto.InboundTypeCallUser,
		Data: json.RawMessage(`{`),
	})
	if out == nil || out.Error == nil || out.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %+v", out)
	}

	out = h.handleInbound(ctx, alice, "conn-a", proto.Inbound{Type: "bogus"})
	if out == nil || out.Error == nil || out.Error.Code != "bad_request" {
		t.Fatalf("unknown type must be bad_request, got %+v", out)
	}
}
