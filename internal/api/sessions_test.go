//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
	"github.com/Sohaibb98/sohaib-energent-task/internal/hub"
	"github.com/Sohaibb98/sohaib-energent-task/internal/session"
	"github.com/go-chi/chi/v5"
)

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	messages map[string][]*domain.Message
	pingErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]*domain.Message),
	}
}

func (f *fakeRepo) CreateSession(_ context.Context, id, name string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	sess := &domain.Session{ID: id, Name: name, Status: domain.StatusIdle, CreatedAt: now, UpdatedAt: now}
	f.sessions[id] = sess
	copy := *sess
	return &copy, nil
}

func (f *fakeRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copy := *sess
	copy.MessageCount = len(f.messages[id])
	return &copy, nil
}

func (f *fakeRepo) ListSessions(_ context.Context) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*domain.Session{}
	for id, sess := range f.sessions {
		copy := *sess
		copy.MessageCount = len(f.messages[id])
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeRepo) UpdateSessionStatus(_ context.Context, id string, status domain.Status) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	if !sess.Status.CanTransition(status) {
		return sess.Status, nil
	}
	sess.Status = status
	return status, nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeRepo) AppendMessage(_ context.Context, msg *domain.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[msg.SessionID]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	msg.Seq = int64(len(f.messages[msg.SessionID]) + 1)
	msg.CreatedAt = time.Now()
	copy := *msg
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], &copy)
	sess.UpdatedAt = msg.CreatedAt
	return msg.Seq, nil
}

func (f *fakeRepo) ReadMessages(_ context.Context, sessionID string, sinceSeq int64) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := []*domain.Message{}
	for _, msg := range f.messages[sessionID] {
		if msg.Seq > sinceSeq {
			copy := *msg
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error                 { return nil }

func newTestRouter(repo *fakeRepo) chi.Router {
	svc := session.NewService(repo, hub.New(), nil)
	r := chi.NewRouter()
	NewSessionHandler(svc).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateSessionWithInitialMessage(t *testing.T) {
	router := newTestRouter(newFakeRepo())

	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{
		"name":            "T",
		"initial_message": "hi",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created domain.Session
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID == "" || created.Name != "T" || created.Status != domain.StatusIdle {
		t.Errorf("Unexpected session: %+v", created)
	}
	if created.MessageCount != 1 {
		t.Errorf("Expected message_count 1, got %d", created.MessageCount)
	}

	w = doJSON(t, router, http.MethodGet, "/sessions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var detail struct {
		domain.Session
		Messages []*domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(detail.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(detail.Messages))
	}
	msg := detail.Messages[0]
	if msg.Role != domain.RoleUser || msg.Content != "hi" || msg.Seq != 1 {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestCreateSessionRejectsEmptyName(t *testing.T) {
	router := newTestRouter(newFakeRepo())

	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestGetUnknownSessionReturns404(t *testing.T) {
	router := newTestRouter(newFakeRepo())

	w := doJSON(t, router, http.MethodGet, "/sessions/unknown-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestPostMessage(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo)

	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"name": "T"})
	var created domain.Session
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	w = doJSON(t, router, http.MethodPost, "/sessions/"+created.ID+"/messages", map[string]string{"message": "ping"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "message sent" || resp["session_id"] != created.ID {
		t.Errorf("Unexpected response: %v", resp)
	}

	w = doJSON(t, router, http.MethodPost, "/sessions/unknown-id/messages", map[string]string{"message": "ping"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/sessions/"+created.ID+"/messages", map[string]string{"message": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty message, got %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	router := newTestRouter(newFakeRepo())

	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"name": "T"})
	var created domain.Session
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	w = doJSON(t, router, http.MethodDelete, "/sessions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/sessions/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/sessions/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on double delete, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	router := newTestRouter(newFakeRepo())

	for _, name := range []string{"first", "second"} {
		w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"name": name})
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", w.Code)
		}
	}

	w := doJSON(t, router, http.MethodGet, "/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var sessions []*domain.Session
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(sessions))
	}
}

func TestHealth(t *testing.T) {
	repo := newFakeRepo()
	r := chi.NewRouter()
	NewHealthHandler(repo, time.Second).RegisterHealth(r)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", resp["status"])
	}
	if resp["timestamp"] == "" {
		t.Error("Expected a timestamp")
	}

	repo.pingErr = errors.New("database gone")
	w = doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when store unreachable, got %d", w.Code)
	}
}
