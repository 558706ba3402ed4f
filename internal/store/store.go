// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
)

// Repository defines the interface for persisting sessions and messages.
// It is the single source of truth; all invariants on sequence numbers and
// status transitions are enforced here.
type Repository interface {
	// CreateSession persists a new session and returns it.
	CreateSession(ctx context.Context, id, name string) (*domain.Session, error)

	// GetSession retrieves a session by id.
	// Returns domain.ErrSessionNotFound if the id is unknown.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListSessions returns all sessions ordered by most-recently-updated first.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// UpdateSessionStatus moves a session to the given status. Transitions out
	// of completed or error are silently ignored; the returned status is the
	// session's status after the call.
	UpdateSessionStatus(ctx context.Context, id string, status domain.Status) (domain.Status, error)

	// DeleteSession removes a session and all of its messages.
	// Returns domain.ErrSessionNotFound if the id is unknown.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage durably appends a message to its session's log and returns
	// the assigned sequence number. Sequence numbers are strictly increasing
	// and gapless per session, starting at 1, even under concurrent appends.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	AppendMessage(ctx context.Context, msg *domain.Message) (int64, error)

	// ReadMessages returns all messages of a session with seq > sinceSeq,
	// ordered by seq. Returns domain.ErrSessionNotFound if the id is unknown.
	ReadMessages(ctx context.Context, sessionID string, sinceSeq int64) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
