package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
	"github.com/Sohaibb98/sohaib-energent-task/internal/session"
	"github.com/Sohaibb98/sohaib-energent-task/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles the session and message endpoints.
type SessionHandler struct {
	svc *session.Service
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *session.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{sid}", h.Get)
		r.Delete("/{sid}", h.Delete)
		r.Post("/{sid}/messages", h.PostMessage)
	})
}

type createSessionRequest struct {
	Name           string `json:"name"`
	InitialMessage string `json:"initial_message,omitempty"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// sessionDetail embeds the full ordered message history in the session shape.
type sessionDetail struct {
	*domain.Session
	Messages []*domain.Message `json:"messages"`
}

// Create creates a new agent session, appending the initial user message
// first when one is supplied.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := DecodeBody(w, r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	sess, err := h.svc.Create(r.Context(), req.Name, req.InitialMessage)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// List returns all sessions, most-recently-updated first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.List(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// Get returns one session with its embedded message history.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")

	sess, msgs, err := h.svc.Get(r.Context(), sid)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sessionDetail{Session: sess, Messages: msgs})
}

// Delete removes a session and all of its messages.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")

	if err := h.svc.Delete(r.Context(), sid); err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "session deleted", "session_id": sid})
}

// PostMessage appends a user text message to a session. The agent runs
// asynchronously; its output arrives over the session's stream.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")

	var req sendMessageRequest
	if err := DecodeBody(w, r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	if err := h.svc.PostMessage(r.Context(), sid, req.Message); err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "message sent", "session_id": sid})
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, timeout: timeout}
}

// Health reports whether the process and the persistence store are up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    map[string]string{"api": "ok", "database": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
