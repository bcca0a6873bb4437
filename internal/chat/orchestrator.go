// Package chat drives one streaming agent turn: it owns the turn lifecycle
// from user message to finalized assistant record, multiplexing the agent
// loop's event sequence to the live transport while persisting state
// incrementally so a disconnect loses no completed work.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/store"
)

// ErrClientGone indicates the client connection closed mid-turn.
var ErrClientGone = errors.New("client disconnected")

// Store is the conversation/message persistence the orchestrator depends on.
type Store interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	TouchConversation(ctx context.Context, id uuid.UUID) error
	InsertMessage(ctx context.Context, m *store.Message) error
	UpdateMessage(ctx context.Context, id uuid.UUID, upd store.MessageUpdate) error
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error)
}

// Transport is the live push stream toward one client connection.
// internal/sse.Stream satisfies it.
type Transport interface {
	Send(event string, payload any) error
	StartHeartbeat(interval time.Duration) (stop func())
}

// TurnRequest is one user message to process.
type TurnRequest struct {
	ConversationID uuid.UUID // uuid.Nil creates a new conversation
	OwnerID        string
	Text           string
	InputImages    []string
}

// Config assembles an Orchestrator.
type Config struct {
	Store             Store
	Persister         Persister
	Loop              agent.Loop
	HistoryWindow     int
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// Orchestrator runs streaming agent turns. Safe for concurrent use; all
// per-turn state lives in Run.
type Orchestrator struct {
	store     Store
	persister Persister
	loop      agent.Loop
	window    int
	heartbeat time.Duration
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Persister == nil {
		return nil, errors.New("persister is required")
	}
	if cfg.Loop == nil {
		return nil, errors.New("agent loop is required")
	}
	window := cfg.HistoryWindow
	if window < 1 {
		window = 40
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     cfg.Store,
		persister: cfg.Persister,
		loop:      cfg.Loop,
		window:    window,
		heartbeat: heartbeat,
		logger:    logger,
	}, nil
}

// Run processes one turn over an already-open transport. Every failure after
// the stream is open manifests as a terminal error event; the returned error
// is for the caller's logging only.
//
// Event ordering: a conversation event (for a new conversation) precedes all
// agent events; agent events are forwarded in production order; exactly one
// done or error event terminates the stream.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, t Transport) error {
	conv, created, err := o.resolveConversation(ctx, req)
	if err != nil {
		return o.reject(t, err)
	}
	if created {
		if err := t.Send("conversation", ConversationPayload{ConversationID: conv.ID.String()}); err != nil {
			return fmt.Errorf("%w: %w", ErrClientGone, err)
		}
	}

	userMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           agent.RoleUser,
		Status:         store.StatusSent,
		Content:        req.Text,
		InputImages:    req.InputImages,
	}
	if err := o.store.InsertMessage(ctx, userMsg); err != nil {
		return o.reject(t, err)
	}

	history, err := NewAssembler(o.store, o.window).History(ctx, conv.ID)
	if err != nil {
		return o.reject(t, err)
	}

	// The assistant placeholder exists before the first agent event is
	// processed; its id anchors every incremental write.
	asst := &store.Message{
		ConversationID: conv.ID,
		Role:           agent.RoleAssistant,
		Status:         store.StatusGenerating,
	}
	if err := o.store.InsertMessage(ctx, asst); err != nil {
		return o.reject(t, err)
	}

	logger := o.logger.With("conversation", conv.ID, "message", asst.ID)
	logger.Info("turn started", "new_conversation", created)

	return o.runAgent(ctx, req, conv, asst, history, t, logger)
}

func (o *Orchestrator) runAgent(
	ctx context.Context,
	req TurnRequest,
	conv *store.Conversation,
	asst *store.Message,
	history []agent.HistoryMessage,
	t Transport,
	logger *slog.Logger,
) error {
	stopHeartbeat := t.StartHeartbeat(o.heartbeat)
	defer stopHeartbeat()

	flush := newFlusher(o.store, asst.ID, logger)
	defer flush.stop()

	collector := NewCollector(o.persister, req.OwnerID)

	// Own cancellation for the loop so a client disconnect can stop it as
	// soon as practical; in-flight tool calls may still run to completion.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	// Persistence outlives the client connection: the last captured state
	// must land even when ctx is canceled by a disconnect.
	persistCtx := context.WithoutCancel(ctx)

	agentReq := agent.Request{
		ConversationID: conv.ID,
		MessageID:      asst.ID,
		Text:           req.Text,
		InputImages:    req.InputImages,
		History:        history,
	}

	var (
		loopErr    error
		clientGone bool
	)

events:
	for ev, err := range o.loop.Stream(loopCtx, agentReq) {
		if err != nil {
			if clientGone && errors.Is(err, context.Canceled) {
				break events
			}
			loopErr = err
			break events
		}

		lean := collector.Collect(persistCtx, ev)

		switch lean.Type {
		case agent.EventDone:
			break events
		case agent.EventError:
			loopErr = fmt.Errorf("%w: %s", agent.ErrExecutionFailed, lean.Message)
			break events
		}

		if !clientGone {
			name, payload := wireEvent(lean)
			if err := t.Send(name, payload); err != nil {
				clientGone = true
				stopHeartbeat()
				cancelLoop()
				logger.Info("client disconnected, stopping agent loop", "error", err)
			}
		}

		flush.push(collector.Snapshot(store.StatusGenerating))
	}

	stopHeartbeat()
	flush.stop()

	if clientGone {
		// Keep whatever was captured; the message must not stay generating.
		status := store.StatusFailed
		if collector.HasContent() {
			status = store.StatusSent
		}
		if err := o.store.UpdateMessage(persistCtx, asst.ID, collector.Snapshot(status)); err != nil {
			logger.Warn("final update after disconnect failed", "error", err)
		}
		return ErrClientGone
	}

	if loopErr != nil {
		// Failed: best-effort status write, then the terminal error frame.
		if err := o.store.UpdateMessage(persistCtx, asst.ID, collector.Snapshot(store.StatusFailed)); err != nil {
			logger.Warn("failed-status update failed", "error", err)
		}
		if err := t.Send("error", ErrorPayload{Message: userMessage(loopErr)}); err != nil {
			logger.Debug("error event write failed", "error", err)
		}
		logger.Error("turn failed", "error", loopErr)
		return loopErr
	}

	// Finalizing: one awaited write, then the terminal done frame.
	if err := o.store.UpdateMessage(persistCtx, asst.ID, collector.Snapshot(store.StatusSent)); err != nil {
		if sendErr := t.Send("error", ErrorPayload{Message: "failed to record response"}); sendErr != nil {
			logger.Debug("error event write failed", "error", sendErr)
		}
		logger.Error("final update failed", "error", err)
		return fmt.Errorf("finalize message: %w", err)
	}
	if err := o.store.TouchConversation(persistCtx, conv.ID); err != nil {
		logger.Debug("touch conversation failed", "error", err)
	}

	if err := t.Send("done", DonePayload{
		ConversationID: conv.ID.String(),
		MessageID:      asst.ID.String(),
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrClientGone, err)
	}

	logger.Info("turn completed", "has_content", collector.HasContent())
	return nil
}

// resolveConversation loads the requested conversation or creates a new one.
func (o *Orchestrator) resolveConversation(ctx context.Context, req TurnRequest) (conv *store.Conversation, created bool, err error) {
	if req.ConversationID == uuid.Nil {
		title := truncateForTitle(req.Text)
		conv, err = o.store.CreateConversation(ctx, req.OwnerID, title)
		if err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}

	conv, err = o.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, false, err
	}
	if conv.OwnerID != req.OwnerID {
		return nil, false, fmt.Errorf("conversation %s: %w", req.ConversationID, store.ErrNotFound)
	}
	return conv, false, nil
}

// reject terminates a turn that failed before the agent loop started.
// The SSE stream is already open, so the failure goes out as the terminal
// error event.
func (o *Orchestrator) reject(t Transport, err error) error {
	msg := "internal error"
	if errors.Is(err, store.ErrNotFound) {
		msg = "conversation not found"
	}
	if sendErr := t.Send("error", ErrorPayload{Message: msg}); sendErr != nil {
		o.logger.Debug("error event write failed", "error", sendErr)
	}
	o.logger.Error("turn rejected", "error", err)
	return err
}

// userMessage maps an agent failure onto the message shown to the client.
func userMessage(err error) string {
	switch {
	case errors.Is(err, agent.ErrRateLimited):
		return "the model is rate limited, try again shortly"
	case errors.Is(err, agent.ErrModelUnavailable):
		return "the model backend is unavailable"
	default:
		return err.Error()
	}
}

// titleMaxLength bounds auto-generated conversation titles.
const titleMaxLength = 50

// truncateForTitle derives a conversation title from the first message,
// cutting at a word boundary when possible.
func truncateForTitle(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= titleMaxLength {
		return message
	}

	truncated := string(runes[:titleMaxLength])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > titleMaxLength/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimSpace(truncated) + "..."
}
