package domain

import (
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known message roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// Kind categorizes message payloads.
type Kind string

const (
	KindText       Kind = "text"
	KindToolResult Kind = "tool_result"
	KindScreenshot Kind = "screenshot"
	KindError      Kind = "error"
)

// Valid reports whether k is one of the known message kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindToolResult, KindScreenshot, KindError:
		return true
	}
	return false
}

// Message is an immutable record owned by exactly one session. Seq is
// assigned by the store on append: strictly increasing and gapless per
// session, starting at 1, and defines display order.
type Message struct {
	Seq        int64     `json:"seq"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Kind       Kind      `json:"kind"`
	ToolName   string    `json:"tool_name,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the message shape before it is persisted.
func (m *Message) Validate() error {
	if !m.Role.Valid() {
		return &ValidationError{Field: "role", Reason: "must be one of user, assistant, tool, system"}
	}
	if !m.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "must be one of text, tool_result, screenshot, error"}
	}
	if m.Kind == KindText && m.Content == "" {
		return &ValidationError{Field: "content", Reason: "cannot be empty for text messages"}
	}
	return nil
}
