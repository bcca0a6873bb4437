package agent

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// HistoryMessage is one prior turn element in the normalized shape the loop
// expects. Immutable once assembled.
type HistoryMessage struct {
	Role            string
	Text            string
	InputImages     []string
	GeneratedImages []ImageRef
}

// Roles for history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the input for one loop invocation: the new user message plus the
// bounded conversation history and the identifiers of the turn being served.
type Request struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID // assistant placeholder
	Text           string
	InputImages    []string
	History        []HistoryMessage
}

// Loop drives one agent turn and yields its event sequence.
//
// The sequence terminates with exactly one done or error event, or with a
// non-nil error from the iterator. Implementations should honor ctx
// cancellation between events; in-flight tool calls may still run to
// completion after cancel.
type Loop interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Event, error]
}
