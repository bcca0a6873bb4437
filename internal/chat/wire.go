package chat

import (
	"encoding/json"

	"github.com/atelierhq/atelier/internal/agent"
)

// Wire payloads. Field names are the client contract; see the event framing
// in internal/sse.
type (
	// ConversationPayload announces a newly created conversation. Always the
	// first event on the stream when present.
	ConversationPayload struct {
		ConversationID string `json:"conversationId"`
	}

	// ThinkingPayload carries intermediate model reasoning.
	ThinkingPayload struct {
		Message string `json:"message,omitempty"`
	}

	// ToolStartPayload announces a tool invocation.
	ToolStartPayload struct {
		Tool string `json:"tool"`
	}

	// ToolResultPayload carries a lean tool result.
	ToolResultPayload struct {
		Tool      string           `json:"tool"`
		Arguments json.RawMessage  `json:"arguments,omitempty"`
		Result    agent.LeanResult `json:"result"`
	}

	// TextDeltaPayload carries one partial-text chunk.
	TextDeltaPayload struct {
		Delta string `json:"delta"`
	}

	// DonePayload terminates a successful turn.
	DonePayload struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}

	// ErrorPayload terminates a failed turn.
	ErrorPayload struct {
		Message string `json:"message"`
	}
)

// wireEvent maps a lean agent event onto its SSE event name and payload.
// done and error are not mapped here; the orchestrator owns the terminal
// frames so their payloads carry the turn identifiers.
func wireEvent(ev agent.Event) (name string, payload any) {
	switch ev.Type {
	case agent.EventThinking:
		return "thinking", ThinkingPayload{Message: ev.Message}
	case agent.EventToolStart:
		return "tool_start", ToolStartPayload{Tool: ev.Tool}
	case agent.EventToolResult:
		result := agent.LeanResult{}
		if ev.Result != nil {
			result.OK = ev.Result.OK
			result.Message = ev.Result.Message
			for _, img := range ev.Result.Images {
				result.Images = append(result.Images, img.Ref())
			}
		}
		return "tool_result", ToolResultPayload{Tool: ev.Tool, Arguments: ev.Arguments, Result: result}
	case agent.EventTextDelta:
		return "text_delta", TextDeltaPayload{Delta: ev.Delta}
	case agent.EventImage:
		img := agent.Image{}
		if ev.Image != nil {
			img = *ev.Image
		}
		return "image", img.Ref()
	default:
		return string(ev.Type), struct{}{}
	}
}
