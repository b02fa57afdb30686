package ws

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/auth"
	"github.com/ringlink/ringlink-server/internal/presence"
	"github.com/ringlink/ringlink-server/internal/proto"
	"github.com/ringlink/ringlink-server/internal/registry"
	"github.com/ringlink/ringlink-server/internal/signaling"
	"github.com/ringlink/ringlink-server/internal/utils"
)

// ConnStats tracks the live connection gauge. May be nil.
type ConnStats interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Handler upgrades HTTP connections and bridges them into the
// signaling core: connect/disconnect hooks drive the registry and
// presence, inbound frames map onto coordinator operations, and the
// mux delivers relayed signals back out.
type Handler struct {
	mux         *Mux
	registry    *registry.Registry
	presence    *presence.Tracker
	coordinator *signaling.Coordinator
	verifier    *auth.Verifier
	ringTimeout time.Duration
	stats       ConnStats
	log         *zerolog.Logger
}

// NewHandler builds the websocket handler.
func NewHandler(mux *Mux, reg *registry.Registry, pres *presence.Tracker,
	coord *signaling.Coordinator, verifier *auth.Verifier,
	ringTimeout time.Duration, stats ConnStats, logger *zerolog.Logger) *Handler {
	return &Handler{
		mux:         mux,
		registry:    reg,
		presence:    pres,
		coordinator: coord,
		verifier:    verifier,
		ringTimeout: ringTimeout,
		stats:       stats,
		log:         logger,
	}
}

func (h *Handler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	connID := utils.NewConnectionID()
	events := h.mux.Register(connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.registry.AddConnection(claims.UserID, claims.DisplayName, connID)
	h.presence.UserConnected(ctx, claims.UserID, connID)
	if h.stats != nil {
		h.stats.ConnectionOpened()
	}
	h.log.Info().
		Str("user_id", claims.UserID).
		Str("conn_id", connID).
		Msg("connection established")

	defer func() {
		// Teardown order matters: the registry must reflect the loss
		// before the coordinator decides whether the user is gone.
		h.mux.Unregister(connID)
		h.registry.RemoveConnection(connID)
		h.presence.UserDisconnected(context.Background(), claims.UserID, connID)
		h.coordinator.HandleConnectionGone(context.Background(), claims.UserID, connID)
		if h.stats != nil {
			h.stats.ConnectionClosed()
		}
		h.log.Info().
			Str("user_id", claims.UserID).
			Str("conn_id", connID).
			Msg("connection closed")
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, claims, connID)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, events)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", connID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// authenticate extracts and verifies the token from the Authorization
// header or, for browser clients that cannot set headers on websocket
// upgrades, the token query parameter.
func (h *Handler) authenticate(r *stdhttp.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if authz := r.Header.Get("Authorization"); authz != "" {
		token = strings.TrimPrefix(authz, "Bearer ")
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return h.verifier.Verify(token)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, claims *auth.Claims, connID string) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		// Replies go through the mux so the write loop stays the
		// connection's only writer.
		if out := h.handleInbound(ctx, claims, connID, inbound); out != nil {
			h.mux.Enqueue(connID, *out)
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan proto.Outbound) error {
	for {
		select {
		case out, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
