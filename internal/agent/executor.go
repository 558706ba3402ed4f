// Package agent integrates the external computer-use agent that turns a
// message history into further messages and a terminal session status.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
)

// Event is one line of the agent's NDJSON output stream.
type Event struct {
	// Type is one of output, tool_output, api_error, success, error.
	Type string `json:"type"`

	// Content carries assistant text for output events.
	Content string `json:"content,omitempty"`

	// ToolID, Output, Screenshot and Error carry tool_output payloads.
	ToolID     string `json:"tool_id,omitempty"`
	Output     string `json:"output,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`

	// Message carries the completion note on success events.
	Message string `json:"message,omitempty"`
}

const (
	EventOutput     = "output"
	EventToolOutput = "tool_output"
	EventAPIError   = "api_error"
	EventSuccess    = "success"
	EventError      = "error"
)

// Terminal reports whether the event ends the invocation.
func (e *Event) Terminal() bool {
	return e.Type == EventSuccess || e.Type == EventError
}

// Request describes one agent invocation: the newly posted user message
// plus the session's full ordered history up to and including it.
type Request struct {
	SessionID string
	Prompt    string
	History   []*domain.Message
}

// Executor is the capability interface for the external computer-use
// agent. Implementations submit a request and yield the event stream it
// produces; the stream ends with a success or error event (or an
// iteration error when the collaborator itself is unreachable).
type Executor interface {
	Run(ctx context.Context, req Request) iter.Seq2[*Event, error]
}

// maxEventLine bounds a single NDJSON line. Screenshot payloads are
// base64-encoded images, so lines can run to several megabytes.
const maxEventLine = 16 << 20

// DecodeEvents yields agent events from an NDJSON stream, skipping lines
// that are not valid JSON objects (the demo interleaves plain log output).
func DecodeEvents(r io.Reader) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
				continue
			}
			if !yield(&ev, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read agent output: %w", err))
		}
	}
}
