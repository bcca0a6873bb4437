// Package agent defines the event model and the loop collaborator contract
// for tool-calling agent turns.
//
// The loop itself (model inference plus tool dispatch) is a collaborator
// behind the Loop interface; this package owns the typed event union the
// loop produces and the lean record shapes that survive persistence.
package agent

import (
	"encoding/json"
	"time"
)

// EventType identifies one variant of the agent event union.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventTextDelta  EventType = "text_delta"
	EventImage      EventType = "image"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one element of the loop's output sequence. Exactly the fields for
// the given Type are populated; the rest stay zero.
//
// Events are transient and in-memory only. Before an event is forwarded to a
// client or flushed to the store it is transformed into its lean form: image
// payloads are persisted and replaced by URLs (see the chat collector).
type Event struct {
	Type EventType

	// Tool and Arguments are set for tool_start and tool_result.
	Tool      string
	Arguments json.RawMessage

	// Result is set for tool_result.
	Result *ToolResult

	// Delta is set for text_delta.
	Delta string

	// Image is set for image.
	Image *Image

	// Message is set for thinking and error.
	Message string
}

// Image is an image payload inside an event or tool result.
//
// Payload carries the unpersisted form: a data URL, a bare base64 body, or an
// already-resolved http(s) URL. URL is filled in once the artifact persister
// has run; lean events carry URL only.
type Image struct {
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
	Payload string `json:"data,omitempty"`
}

// Ref returns the reference form of the image with any payload dropped.
func (img Image) Ref() ImageRef {
	return ImageRef{ID: img.ID, URL: img.URL}
}

// ImageRef is a persisted image reference.
type ImageRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ToolResult is the raw outcome of one tool invocation.
type ToolResult struct {
	OK      bool    `json:"ok"`
	Message string  `json:"message,omitempty"`
	Images  []Image `json:"images,omitempty"`
}

// LeanResult is a tool result with image payloads replaced by references.
// This is the only result shape that is persisted or forwarded.
type LeanResult struct {
	OK      bool       `json:"ok"`
	Message string     `json:"message,omitempty"`
	Images  []ImageRef `json:"images,omitempty"`
}

// ToolCallRecord is the persisted record of one tool invocation within a
// turn. Records accumulate append-only while the loop runs and are flushed
// with each incremental message update.
type ToolCallRecord struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    LeanResult      `json:"result"`
	CalledAt  time.Time       `json:"calledAt"`
}
