//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
	"github.com/Sohaibb98/sohaib-energent-task/internal/hub"
	"github.com/Sohaibb98/sohaib-energent-task/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

func newStreamServer(t *testing.T) (*httptest.Server, *session.Service) {
	t.Helper()
	svc := session.NewService(newFakeRepo(), hub.New(), nil)
	r := chi.NewRouter()
	NewStreamHandler(svc, "", true).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

// streamFrame covers both message payloads and control frames.
type streamFrame struct {
	Type    string      `json:"type"`
	Seq     int64       `json:"seq"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) streamFrame {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(readCtx)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", data, err)
	}
	return frame
}

func TestStreamReplayThenPush(t *testing.T) {
	srv, svc := newStreamServer(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "T", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.PostMessage(ctx, sess.ID, "hi"); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	// Connecting after the publish must still observe the message via
	// history replay.
	ws, _, err := websocket.Dial(ctx, srv.URL+"/sessions/"+sess.ID+"/stream", nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "test done")

	frame := readFrame(t, ctx, ws)
	if frame.Seq != 1 || frame.Content != "hi" || frame.Role != domain.RoleUser {
		t.Errorf("Unexpected replayed frame: %+v", frame)
	}

	// Heartbeat probe.
	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	frame = readFrame(t, ctx, ws)
	if frame.Type != "pong" {
		t.Errorf("Expected pong, got %+v", frame)
	}

	// Live push after the replay.
	if err := svc.PostMessage(ctx, sess.ID, "follow-up"); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	frame = readFrame(t, ctx, ws)
	if frame.Seq != 2 || frame.Content != "follow-up" {
		t.Errorf("Unexpected pushed frame: %+v", frame)
	}
}

func TestStreamTwoSubscribersSeeSamePublish(t *testing.T) {
	srv, svc := newStreamServer(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "T", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ws1, _, err := websocket.Dial(ctx, srv.URL+"/sessions/"+sess.ID+"/stream", nil)
	if err != nil {
		t.Fatalf("Failed to dial first subscriber: %v", err)
	}
	defer ws1.Close(websocket.StatusNormalClosure, "test done")

	ws2, _, err := websocket.Dial(ctx, srv.URL+"/sessions/"+sess.ID+"/stream", nil)
	if err != nil {
		t.Fatalf("Failed to dial second subscriber: %v", err)
	}
	defer ws2.Close(websocket.StatusNormalClosure, "test done")

	if err := svc.PostMessage(ctx, sess.ID, "ping"); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	f1 := readFrame(t, ctx, ws1)
	f2 := readFrame(t, ctx, ws2)
	if f1.Content != "ping" || f2.Content != "ping" {
		t.Errorf("Expected both subscribers to receive the post, got %+v and %+v", f1, f2)
	}
	if f1.Seq != f2.Seq {
		t.Errorf("Expected identical sequence numbers, got %d and %d", f1.Seq, f2.Seq)
	}
}

func TestStreamSinceCursorSkipsReplayed(t *testing.T) {
	srv, svc := newStreamServer(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "T", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, content := range []string{"one", "two"} {
		if err := svc.PostMessage(ctx, sess.ID, content); err != nil {
			t.Fatalf("PostMessage failed: %v", err)
		}
	}

	ws, _, err := websocket.Dial(ctx, srv.URL+"/sessions/"+sess.ID+"/stream?since=1", nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "test done")

	frame := readFrame(t, ctx, ws)
	if frame.Seq != 2 || frame.Content != "two" {
		t.Errorf("Expected replay to start after cursor, got %+v", frame)
	}
}

func TestStreamUnknownSessionRejected(t *testing.T) {
	srv, _ := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, srv.URL+"/sessions/unknown-id/stream", nil)
	if err == nil {
		t.Fatal("Expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 handshake response, got %+v", resp)
	}
}
