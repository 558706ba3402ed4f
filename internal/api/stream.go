package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
	"github.com/Sohaibb98/sohaib-energent-task/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	// pingInterval drives the server-side liveness probe; a probe that
	// gets no pong within pingTimeout counts as connection loss.
	pingInterval = 30 * time.Second
	pingTimeout  = 10 * time.Second
)

// wsControl is the client->server control message shape (heartbeats).
type wsControl struct {
	Type string `json:"type"`
}

// StreamHandler upgrades session stream requests to WebSocket and runs the
// replay-then-subscribe handshake: all messages past the client's cursor
// are sent first, then the connection switches to push mode and receives
// each newly published message for the session.
type StreamHandler struct {
	svc           *session.Service
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *session.Service, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{svc: svc, allowedOrigin: allowedOrigin, isDev: isDev}
}

// RegisterRoutes registers the stream upgrade route.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sid}/stream", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for the stream upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	slog.Info("Stream connection request", "session_id", sid, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			Error(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		since = parsed
	}

	// Resolve the session before upgrading so unknown ids surface as a
	// plain 404 rather than a doomed WebSocket.
	if _, err := h.svc.ReadSince(r.Context(), sid, since); err != nil {
		WriteDomainError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sid)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sid)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading history so nothing published in between is
	// missed; duplicates from the overlap are dropped by seq in pushLoop.
	sub := h.svc.Subscribe(sid)
	defer h.svc.Unsubscribe(sub)

	history, err := h.svc.ReadSince(ctx, sid, since)
	if err != nil {
		slog.Error("History replay read failed", "error", err, "session_id", sid)
		return
	}

	replayed := since
	for _, msg := range history {
		if err := h.writeJSON(ctx, ws, msg); err != nil {
			slog.Debug("History replay write failed", "error", err, "session_id", sid)
			return
		}
		replayed = msg.Seq
	}

	// Input loop: heartbeats from the client, and connection teardown.
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, sid)
	}()

	h.pushLoop(ctx, cancel, ws, sub.C, sid, replayed)
	slog.Info("Stream session ended", "session_id", sid)
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Stream origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop answers {"type":"ping"} probes with {"type":"pong"} and returns
// when the client goes away.
func (h *StreamHandler) readLoop(ctx context.Context, ws *websocket.Conn, sid string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Stream closed by client", "session_id", sid)
			} else if ctx.Err() == nil {
				slog.Warn("Stream read error", "error", err, "session_id", sid)
			}
			return
		}

		var msg wsControl
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, wsControl{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err, "session_id", sid)
				return
			}
		}
	}
}

// pushLoop forwards newly published messages to the client and probes the
// connection for liveness between deliveries.
func (h *StreamHandler) pushLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, deliveries <-chan *domain.Message, sid string, lastSeq int64) {
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-deliveries:
			if !ok {
				// Subscription removed out from under us: session deleted.
				_ = ws.Close(websocket.StatusGoingAway, "session deleted")
				cancel()
				return
			}
			// A publish that raced the history replay can arrive twice.
			if msg.Seq <= lastSeq {
				continue
			}
			if err := h.writeJSON(ctx, ws, msg); err != nil {
				slog.Debug("Stream delivery failed", "error", err, "session_id", sid, "seq", msg.Seq)
				cancel()
				return
			}
			lastSeq = msg.Seq

		case <-pinger.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("Stream liveness probe failed", "error", err, "session_id", sid)
				cancel()
				return
			}
		}
	}
}

func (h *StreamHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
