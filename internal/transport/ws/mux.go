package ws

import (
	"fmt"
	"sync"

	"github.com/ringlink/ringlink-server/internal/proto"
	"github.com/ringlink/ringlink-server/internal/signaling"
)

// outboundBuffer bounds the per-connection send queue. A consumer that
// cannot keep up loses signals rather than blocking the coordinator.
const outboundBuffer = 32

// Mux routes outbound frames to live websocket connections by
// connection ID. It implements signaling.Sender, so the coordinator
// can relay without knowing anything about websockets.
type Mux struct {
	mu    sync.RWMutex
	conns map[string]chan proto.Outbound
}

// NewMux returns an empty connection mux.
func NewMux() *Mux {
	return &Mux{conns: make(map[string]chan proto.Outbound)}
}

// Register creates the outbound queue for a new connection.
func (m *Mux) Register(connectionID string) <-chan proto.Outbound {
	ch := make(chan proto.Outbound, outboundBuffer)
	m.mu.Lock()
	m.conns[connectionID] = ch
	m.mu.Unlock()
	return ch
}

// Unregister drops the connection's queue. Pending frames are lost,
// consistent with the best-effort delivery contract.
func (m *Mux) Unregister(connectionID string) {
	m.mu.Lock()
	if ch, ok := m.conns[connectionID]; ok {
		delete(m.conns, connectionID)
		close(ch)
	}
	m.mu.Unlock()
}

// Send implements signaling.Sender. An unknown connection reports the
// transport as gone; a full queue drops the frame silently.
func (m *Mux) Send(connectionID string, sig signaling.Signal) error {
	// The read lock spans the enqueue so Unregister cannot close the
	// channel mid-send.
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.conns[connectionID]
	if !ok {
		return fmt.Errorf("connection %s is gone", connectionID)
	}

	select {
	case ch <- signalToOutbound(sig):
	default:
		// Slow consumer: drop rather than block signaling.
	}
	return nil
}

// Enqueue pushes a non-signal frame (ack, error) to one connection.
func (m *Mux) Enqueue(connectionID string, out proto.Outbound) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.conns[connectionID]
	if !ok {
		return
	}
	select {
	case ch <- out:
	default:
	}
}

func signalToOutbound(sig signaling.Signal) proto.Outbound {
	data := &proto.SignalData{
		Signal:     string(sig.Type),
		CallID:     sig.CallID,
		CallType:   string(sig.CallType),
		FromUserID: sig.FromUserID,
		FromName:   sig.FromName,
		GroupID:    sig.GroupID,
		SDP:        sig.SDP,
		Reason:     sig.Reason,
	}
	if sig.Candidate != nil {
		data.Candidate = &proto.Candidate{
			Candidate:     sig.Candidate.Candidate,
			SDPMid:        sig.Candidate.SDPMid,
			SDPMLineIndex: sig.Candidate.SDPMLineIndex,
		}
	}
	return proto.Outbound{Type: proto.OutboundTypeSignal, Signal: data}
}
