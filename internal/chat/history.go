package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/store"
)

// HistoryStore is the store subset the assembler reads from.
type HistoryStore interface {
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error)
}

// Assembler produces the bounded, ordered history window the agent loop
// consumes. The store retrieves newest-first; the assembler drops the newest
// record (the user message the orchestrator just wrote, passed to the loop
// separately) and reverses to oldest-first.
type Assembler struct {
	store  HistoryStore
	window int
}

// NewAssembler creates an Assembler with the given window bound.
func NewAssembler(store HistoryStore, window int) *Assembler {
	if window < 1 {
		window = 40
	}
	return &Assembler{store: store, window: window}
}

// History returns up to window-1 prior messages, oldest to newest. An empty
// conversation yields an empty slice, not an error.
func (a *Assembler) History(ctx context.Context, conversationID uuid.UUID) ([]agent.HistoryMessage, error) {
	msgs, err := a.store.RecentMessages(ctx, conversationID, int32(a.window))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(msgs) <= 1 {
		return nil, nil
	}

	// msgs[0] is the just-inserted user message.
	prior := msgs[1:]
	out := make([]agent.HistoryMessage, 0, len(prior))
	for i := len(prior) - 1; i >= 0; i-- {
		m := prior[i]
		out = append(out, agent.HistoryMessage{
			Role:            m.Role,
			Text:            m.Content,
			InputImages:     m.InputImages,
			GeneratedImages: m.GeneratedImages,
		})
	}
	return out, nil
}
