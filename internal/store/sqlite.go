package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
	"github.com/Sohaibb98/sohaib-energent-task/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	busyRetryAttempts = 3
	busyRetryBaseWait = 100 * time.Millisecond
)

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// appendMu serializes message appends and status updates. Sequence
	// numbers are also assigned inside a transaction, so this mutex mainly
	// keeps concurrent writers from hitting SQLITE_BUSY.
	appendMu sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'idle',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text',
		tool_name TEXT,
		screenshot TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession persists a new session with status idle.
func (s *SQLiteStore) CreateSession(ctx context.Context, id, name string) (*domain.Session, error) {
	now := time.Now()
	query := `
		INSERT INTO sessions (id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, id, name, string(domain.StatusIdle), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &domain.Session{
		ID:        id,
		Name:      name,
		Status:    domain.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const sessionColumns = `
	s.id, s.name, s.status, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var session domain.Session
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&session.ID, &session.Name, &status, &createdAt, &updatedAt, &session.MessageCount)
	if err != nil {
		return nil, err
	}

	session.Status = domain.Status(status)
	session.CreatedAt = time.Unix(0, createdAt)
	session.UpdatedAt = time.Unix(0, updatedAt)
	return &session, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions s WHERE s.id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions, most-recently-updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions s ORDER BY s.updated_at DESC, s.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus moves a session to the given status when the
// transition is allowed. Completed and error are terminal: attempts to
// leave them are ignored and the current status is returned unchanged.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status domain.Status) (domain.Status, error) {
	if !status.Valid() {
		return "", &domain.ValidationError{Field: "status", Reason: "must be one of idle, running, completed, error"}
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var result domain.Status
	err := s.withRetry(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var current string
			err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("query session status: %w", err)
			}

			if !domain.Status(current).CanTransition(status) {
				result = domain.Status(current)
				return nil
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
				string(status), time.Now().UnixNano(), id,
			)
			if err != nil {
				return fmt.Errorf("update session status: %w", err)
			}
			result = status
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// DeleteSession removes a session and cascades deletion of its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	return s.withRetry(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			// Explicit message delete keeps the cascade independent of the
			// connection's foreign_keys pragma.
			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("delete session messages: %w", err)
			}

			result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			if rows == 0 {
				return domain.ErrSessionNotFound
			}
			return nil
		})
	})
}

// AppendMessage appends a message, assigning the next sequence number for
// its session atomically. The MAX(seq)+1 read and the insert share one
// transaction, so concurrent appends never collide or skip a value.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	now := time.Now()
	var seq int64
	err := s.withRetry(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("check session exists: %w", err)
			}

			err = tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`,
				msg.SessionID,
			).Scan(&seq)
			if err != nil {
				return fmt.Errorf("next sequence number: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO messages (session_id, seq, role, content, kind, tool_name, screenshot, error, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				msg.SessionID, seq, string(msg.Role), msg.Content, string(msg.Kind),
				nullable(msg.ToolName), nullable(msg.Screenshot), nullable(msg.Error),
				now.UnixNano(),
			)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET updated_at = ? WHERE id = ?`, now.UnixNano(), msg.SessionID,
			)
			if err != nil {
				return fmt.Errorf("touch session: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	msg.Seq = seq
	msg.CreatedAt = now
	return seq, nil
}

// ReadMessages returns a session's messages with seq > sinceSeq in order.
func (s *SQLiteStore) ReadMessages(ctx context.Context, sessionID string, sinceSeq int64) ([]*domain.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check session exists: %w", err)
	}

	query := `
		SELECT seq, session_id, role, content, kind, tool_name, screenshot, error, created_at
		FROM messages WHERE session_id = ? AND seq > ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role, kind string
		var toolName, screenshot, errText sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&msg.Seq, &msg.SessionID, &role, &msg.Content, &kind,
			&toolName, &screenshot, &errText, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Role = domain.Role(role)
		msg.Kind = domain.Kind(kind)
		msg.ToolName = toolName.String
		msg.Screenshot = screenshot.String
		msg.Error = errText.String
		msg.CreatedAt = time.Unix(0, createdAt)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// inTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// withRetry retries fn with exponential backoff on SQLITE_BUSY errors.
func (s *SQLiteStore) withRetry(fn func() error) error {
	var err error
	for i := 0; i < busyRetryAttempts; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < busyRetryAttempts-1 {
			time.Sleep(busyRetryBaseWait * time.Duration(1<<i))
		}
	}
	return fmt.Errorf("after %d attempts: %w", busyRetryAttempts, err)
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
