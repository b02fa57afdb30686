// Command ws_smoke drives a full direct-call handshake against a
// running server: two clients connect, one calls the other, the callee
// answers, and the caller hangs up. Exits non-zero on any deviation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ringlink/ringlink-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	callerToken := flag.String("caller-token", "", "JWT for the calling user")
	calleeToken := flag.String("callee-token", "", "JWT for the called user")
	calleeID := flag.String("callee", "", "user ID of the called user")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	if *callerToken == "" || *calleeToken == "" || *calleeID == "" {
		return fmt.Errorf("caller-token, callee-token and callee are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	caller, err := dial(ctx, *addr, *callerToken)
	if err != nil {
		return fmt.Errorf("dial caller: %w", err)
	}
	defer caller.Close(websocket.StatusNormalClosure, "bye")

	callee, err := dial(ctx, *addr, *calleeToken)
	if err != nil {
		return fmt.Errorf("dial callee: %w", err)
	}
	defer callee.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, caller, proto.InboundTypeCallUser, proto.CallUserData{
		TargetUserID: *calleeID,
		SDPOffer:     "smoke-offer",
	}); err != nil {
		return err
	}

	ack, err := expect(ctx, caller, proto.OutboundTypeAck)
	if err != nil {
		return fmt.Errorf("call ack: %w", err)
	}
	callID := ack.Ack.CallID
	log.Printf("call initiated: %s", callID)

	offer, err := expect(ctx, callee, proto.OutboundTypeSignal)
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}
	if offer.Signal.Signal != "offer" || offer.Signal.SDP != "smoke-offer" {
		return fmt.Errorf("unexpected offer signal: %+v", offer.Signal)
	}

	if err := send(ctx, callee, proto.InboundTypeAnswerCall, proto.AnswerCallData{
		CallID:    callID,
		SDPAnswer: "smoke-answer",
	}); err != nil {
		return err
	}
	if _, err := expect(ctx, callee, proto.OutboundTypeAck); err != nil {
		return fmt.Errorf("answer ack: %w", err)
	}

	answer, err := expect(ctx, caller, proto.OutboundTypeSignal)
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	if answer.Signal.Signal != "answer" || answer.Signal.SDP != "smoke-answer" {
		return fmt.Errorf("unexpected answer signal: %+v", answer.Signal)
	}
	log.Printf("call connected: %s", callID)

	if err := send(ctx, caller, proto.InboundTypeEndCall, proto.EndCallData{
		CallID: callID,
		Reason: "smoke-done",
	}); err != nil {
		return err
	}
	if _, err := expect(ctx, caller, proto.OutboundTypeAck); err != nil {
		return fmt.Errorf("end ack: %w", err)
	}

	ended, err := expect(ctx, callee, proto.OutboundTypeSignal)
	if err != nil {
		return fmt.Errorf("call end: %w", err)
	}
	if ended.Signal.Signal != "call_ended" {
		return fmt.Errorf("unexpected end signal: %+v", ended.Signal)
	}

	log.Printf("call ended cleanly: %s", callID)
	return nil
}

func dial(ctx context.Context, addr, token string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, addr+"?token="+token, nil)
	return conn, err
}

func send(ctx context.Context, conn *websocket.Conn, msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// expect reads frames until one of the wanted type arrives. An error
// frame fails fast regardless of what was expected.
func expect(ctx context.Context, conn *websocket.Conn, wantType string) (proto.Outbound, error) {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return out, fmt.Errorf("read: %w", err)
		}
		if out.Type == proto.OutboundTypeError {
			return out, fmt.Errorf("server error: %s (%s)", out.Error.Msg, out.Error.Code)
		}
		if out.Type == wantType {
			return out, nil
		}
	}
}
