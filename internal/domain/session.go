// Package domain contains core domain types for agent sessions and messages.
package domain

import (
	"time"
)

// Status describes the lifecycle state of a session.
type Status string

const (
	// StatusIdle is the initial state; the agent is not working on the session.
	StatusIdle Status = "idle"
	// StatusRunning means an agent invocation is in flight.
	StatusRunning Status = "running"
	// StatusCompleted means the last agent invocation finished successfully.
	StatusCompleted Status = "completed"
	// StatusError means the last agent invocation failed.
	StatusError Status = "error"
)

// Valid reports whether s is one of the known session statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status. Sessions never leave
// completed or error; plain message posts must not resurrect them.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a session may move from s to next.
// Transitions are monotonic: idle -> running -> {completed, error}.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusIdle:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusError
	}
	return false
}

// Session is a named, stateful conversation unit owning an ordered
// sequence of messages.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
