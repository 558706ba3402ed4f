// Package session implements the session registry and message log on top
// of the persistence store, and drives agent invocations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Sohaibb98/sohaib-energent-task/internal/agent"
	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
	"github.com/Sohaibb98/sohaib-energent-task/internal/hub"
	"github.com/Sohaibb98/sohaib-energent-task/internal/store"
	"github.com/google/uuid"
)

// postLocks serializes append+publish per session so every subscriber
// observes messages in the order the log assigned their sequence numbers.
var postLocks sync.Map

// Service validates inputs, delegates to the store, fans persisted
// messages out through the hub, and dispatches the agent executor for
// messages posted to non-terminal sessions.
type Service struct {
	repo     store.Repository
	hub      *hub.Hub
	executor agent.Executor // nil disables agent invocations

	runs sync.WaitGroup
}

// NewService creates a session service. executor may be nil, in which case
// posted messages are persisted and fanned out but never trigger an agent
// invocation.
func NewService(repo store.Repository, h *hub.Hub, executor agent.Executor) *Service {
	return &Service{repo: repo, hub: h, executor: executor}
}

// Create registers a new session, optionally appending an initial user
// message before returning.
func (s *Service) Create(ctx context.Context, name, initialMessage string) (*domain.Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "cannot be empty"}
	}

	sess, err := s.repo.CreateSession(ctx, uuid.NewString(), name)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("Session created", "session_id", sess.ID, "name", name)

	if initialMessage != "" {
		msg := &domain.Message{
			SessionID: sess.ID,
			Role:      domain.RoleUser,
			Content:   initialMessage,
			Kind:      domain.KindText,
		}
		if err := s.appendAndPublish(ctx, msg); err != nil {
			return nil, fmt.Errorf("append initial message: %w", err)
		}
		sess.MessageCount = 1
		sess.UpdatedAt = msg.CreatedAt
	}

	return sess, nil
}

// List returns all sessions, most-recently-updated first.
func (s *Service) List(ctx context.Context) ([]*domain.Session, error) {
	return s.repo.ListSessions(ctx)
}

// Get returns a session together with its full ordered message history.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, []*domain.Message, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.repo.ReadMessages(ctx, id, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("read session messages: %w", err)
	}
	return sess, msgs, nil
}

// Delete removes a session, cascades deletion of its messages, and
// detaches all of its stream subscribers.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.hub.CloseSession(id)
	postLocks.Delete(id)
	slog.Info("Session deleted", "session_id", id)
	return nil
}

// ReadSince returns a session's messages with seq > sinceSeq, in order.
// Used by stream handlers for history replay before subscribing.
func (s *Service) ReadSince(ctx context.Context, sessionID string, sinceSeq int64) ([]*domain.Message, error) {
	return s.repo.ReadMessages(ctx, sessionID, sinceSeq)
}

// Subscribe attaches a live subscriber to a session's stream.
func (s *Service) Subscribe(sessionID string) *hub.Subscription {
	return s.hub.Subscribe(sessionID)
}

// Unsubscribe detaches a stream subscriber.
func (s *Service) Unsubscribe(sub *hub.Subscription) {
	s.hub.Unsubscribe(sub)
}

// PostMessage validates and durably appends a user text message, fans it
// out to subscribers, and dispatches the agent when the session is not in
// a terminal state. Posts to completed or error sessions are accepted but
// never resurrect the session's status.
func (s *Service) PostMessage(ctx context.Context, sessionID, content string) error {
	if content == "" {
		return &domain.ValidationError{Field: "message", Reason: "cannot be empty"}
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	msg := &domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   content,
		Kind:      domain.KindText,
	}
	if err := s.appendAndPublish(ctx, msg); err != nil {
		return err
	}

	if s.executor != nil && !sess.Status.Terminal() {
		s.dispatchAgent(sessionID, content)
	}
	return nil
}

// Append validates and durably appends an arbitrary message (any role or
// kind) and fans it out. It never triggers an agent invocation.
func (s *Service) Append(ctx context.Context, msg *domain.Message) error {
	return s.appendAndPublish(ctx, msg)
}

// Wait blocks until all in-flight agent invocations have finished.
func (s *Service) Wait() {
	s.runs.Wait()
}

func (s *Service) appendAndPublish(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	// Holding the per-session lock across append and publish keeps hub
	// delivery in sequence-number order for concurrent posters.
	lock, _ := postLocks.LoadOrStore(msg.SessionID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	mutex.Lock()
	defer mutex.Unlock()

	if _, err := s.repo.AppendMessage(ctx, msg); err != nil {
		return err
	}
	s.hub.Publish(msg)
	return nil
}

// dispatchAgent starts an asynchronous agent invocation for a freshly
// posted user message. Failures surface as a message of kind error plus a
// session status of error, never as a failure of the triggering request.
func (s *Service) dispatchAgent(sessionID, prompt string) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.runAgent(context.Background(), sessionID, prompt)
	}()
}

func (s *Service) runAgent(ctx context.Context, sessionID, prompt string) {
	status, err := s.repo.UpdateSessionStatus(ctx, sessionID, domain.StatusRunning)
	if err != nil {
		slog.Error("Failed to mark session running", "session_id", sessionID, "error", err)
		return
	}
	if status != domain.StatusRunning {
		slog.Debug("Session is terminal, skipping agent invocation", "session_id", sessionID, "status", status)
		return
	}

	history, err := s.repo.ReadMessages(ctx, sessionID, 0)
	if err != nil {
		s.finishAgentRun(ctx, sessionID, fmt.Errorf("read history: %w", err))
		return
	}

	var runErr error
	for ev, err := range s.executor.Run(ctx, agent.Request{SessionID: sessionID, Prompt: prompt, History: history}) {
		if err != nil {
			runErr = err
			break
		}
		if ev.Type == agent.EventError {
			runErr = errors.New(ev.Error)
			break
		}
		if ev.Type == agent.EventSuccess {
			break
		}
		s.recordAgentEvent(ctx, sessionID, ev)
	}

	s.finishAgentRun(ctx, sessionID, runErr)
}

// recordAgentEvent persists one non-terminal agent event as a message and
// fans it out exactly like a user message.
func (s *Service) recordAgentEvent(ctx context.Context, sessionID string, ev *agent.Event) {
	var msg *domain.Message
	switch ev.Type {
	case agent.EventOutput:
		if ev.Content == "" {
			return
		}
		msg = &domain.Message{
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   ev.Content,
			Kind:      domain.KindText,
		}
	case agent.EventToolOutput:
		kind := domain.KindToolResult
		if ev.Screenshot != "" {
			kind = domain.KindScreenshot
		}
		msg = &domain.Message{
			SessionID:  sessionID,
			Role:       domain.RoleTool,
			Content:    ev.Output,
			Kind:       kind,
			ToolName:   ev.ToolID,
			Screenshot: ev.Screenshot,
			Error:      ev.Error,
		}
	case agent.EventAPIError:
		msg = &domain.Message{
			SessionID: sessionID,
			Role:      domain.RoleSystem,
			Content:   "API Error: " + ev.Error,
			Kind:      domain.KindError,
			Error:     ev.Error,
		}
	default:
		slog.Debug("Ignoring unknown agent event", "session_id", sessionID, "type", ev.Type)
		return
	}

	if err := s.appendAndPublish(ctx, msg); err != nil {
		slog.Error("Failed to record agent event", "session_id", sessionID, "type", ev.Type, "error", err)
	}
}

func (s *Service) finishAgentRun(ctx context.Context, sessionID string, runErr error) {
	if runErr == nil {
		if _, err := s.repo.UpdateSessionStatus(ctx, sessionID, domain.StatusCompleted); err != nil {
			slog.Error("Failed to mark session completed", "session_id", sessionID, "error", err)
		}
		slog.Info("Agent invocation completed", "session_id", sessionID)
		return
	}

	slog.Error("Agent invocation failed", "session_id", sessionID, "error", runErr)

	msg := &domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleSystem,
		Content:   "Error processing message: " + runErr.Error(),
		Kind:      domain.KindError,
		Error:     runErr.Error(),
	}
	if err := s.appendAndPublish(ctx, msg); err != nil {
		slog.Error("Failed to record agent failure", "session_id", sessionID, "error", err)
	}
	if _, err := s.repo.UpdateSessionStatus(ctx, sessionID, domain.StatusError); err != nil {
		slog.Error("Failed to mark session errored", "session_id", sessionID, "error", err)
	}
}
