package testutil

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/artifact"
	"github.com/atelierhq/atelier/internal/store"
)

// ScriptedLoop is an agent.Loop that replays a fixed event sequence.
// Err, when set, is yielded after the scripted events. CancelAware makes the
// loop check ctx between events like a real loop would.
type ScriptedLoop struct {
	Events      []agent.Event
	Err         error
	CancelAware bool

	// OnStart runs before the first event is yielded, with the loop request.
	OnStart func(req agent.Request)
}

// Stream implements agent.Loop.
func (l *ScriptedLoop) Stream(ctx context.Context, req agent.Request) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		if l.OnStart != nil {
			l.OnStart(req)
		}
		for _, ev := range l.Events {
			if l.CancelAware && ctx.Err() != nil {
				yield(agent.Event{}, ctx.Err())
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if l.Err != nil {
			yield(agent.Event{}, l.Err)
		}
	}
}

// RecordedEvent is one transport Send captured by RecordingTransport.
type RecordedEvent struct {
	Name    string
	Payload any
}

// RecordingTransport is a chat.Transport that records events in memory.
type RecordingTransport struct {
	mu       sync.Mutex
	events   []RecordedEvent
	attempts int

	// MaxSends bounds successful Sends when positive; later calls fail.
	// Negative fails every Send. Zero never fails.
	MaxSends int

	heartbeatStarts int
	heartbeatStops  int
}

// NewRecordingTransport creates a transport that never fails.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{}
}

// Send records the event, or fails once MaxSends successful sends happened.
func (t *RecordingTransport) Send(event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.MaxSends < 0 || (t.MaxSends > 0 && len(t.events) >= t.MaxSends) {
		return errors.New("connection closed")
	}
	t.events = append(t.events, RecordedEvent{Name: event, Payload: payload})
	return nil
}

// StartHeartbeat records the start and returns an idempotent stop func.
func (t *RecordingTransport) StartHeartbeat(time.Duration) (stop func()) {
	t.mu.Lock()
	t.heartbeatStarts++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.heartbeatStops++
			t.mu.Unlock()
		})
	}
}

// Events returns a copy of the recorded events.
func (t *RecordingTransport) Events() []RecordedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RecordedEvent, len(t.events))
	copy(out, t.events)
	return out
}

// EventNames returns the recorded event names in send order.
func (t *RecordingTransport) EventNames() []string {
	events := t.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

// Attempts returns the total number of Send calls, failed ones included.
func (t *RecordingTransport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// HeartbeatStarts returns how many heartbeats were started.
func (t *RecordingTransport) HeartbeatStarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heartbeatStarts
}

// HeartbeatStops returns how many started heartbeats were stopped.
func (t *RecordingTransport) HeartbeatStops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heartbeatStops
}

// PersistCall is one recorded Persist invocation.
type PersistCall struct {
	ID      string
	Payload string
	OwnerID string
	Prov    artifact.Provenance
}

// RecordingPersister is a chat.Persister that maps payloads to fake URLs.
// Already-resolved http(s) payloads pass through unchanged, mirroring the
// real persister.
type RecordingPersister struct {
	mu    sync.Mutex
	calls []PersistCall
}

// NewRecordingPersister creates a RecordingPersister.
func NewRecordingPersister() *RecordingPersister {
	return &RecordingPersister{}
}

// Persist records the call and returns a deterministic fake URL.
func (p *RecordingPersister) Persist(_ context.Context, id, payload, ownerID string, prov artifact.Provenance) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, PersistCall{ID: id, Payload: payload, OwnerID: ownerID, Prov: prov})
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return payload
	}
	return "https://files.test/" + id
}

// Calls returns a copy of the recorded calls.
func (p *RecordingPersister) Calls() []PersistCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PersistCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// MemStore is an in-memory conversation/message store. It satisfies both the
// orchestrator's and the API's store contracts.
type MemStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*store.Conversation
	messages      []*store.Message // insertion order

	// Failure injection.
	InsertErr error
	UpdateErr error

	touches int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{conversations: make(map[uuid.UUID]*store.Conversation)}
}

// CreateConversation creates a conversation.
func (m *MemStore) CreateConversation(_ context.Context, ownerID, title string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	c := &store.Conversation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[c.ID] = c
	return cloneConversation(c), nil
}

// GetConversation retrieves a conversation, store.ErrNotFound when absent.
func (m *MemStore) GetConversation(_ context.Context, id uuid.UUID) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	return cloneConversation(c), nil
}

// ListConversations lists an owner's conversations, most recently updated first.
func (m *MemStore) ListConversations(_ context.Context, ownerID string, limit, offset int32) ([]*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Conversation
	for _, c := range m.conversations {
		if c.OwnerID == ownerID {
			out = append(out, cloneConversation(c))
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return page(out, limit, offset), nil
}

// TouchConversation bumps updated_at.
func (m *MemStore) TouchConversation(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	c.UpdatedAt = time.Now().UTC()
	m.touches++
	return nil
}

// Touches returns how many TouchConversation calls succeeded.
func (m *MemStore) Touches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches
}

// InsertMessage appends a message, generating its id when zero.
func (m *MemStore) InsertMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = store.StatusSent
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	m.messages = append(m.messages, cloneMessage(msg))
	return nil
}

// UpdateMessage overwrites the mutable fields of a message.
func (m *MemStore) UpdateMessage(_ context.Context, id uuid.UUID, upd store.MessageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	for _, msg := range m.messages {
		if msg.ID == id {
			msg.Status = upd.Status
			msg.Content = upd.Content
			msg.GeneratedImages = upd.GeneratedImages
			msg.ToolCalls = upd.ToolCalls
			msg.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
}

// GetMessage retrieves one message by id.
func (m *MemStore) GetMessage(_ context.Context, id uuid.UUID) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return cloneMessage(msg), nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
}

// RecentMessages returns up to limit messages, newest-first.
func (m *MemStore) RecentMessages(_ context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for i := len(m.messages) - 1; i >= 0 && int32(len(out)) < limit; i-- {
		if m.messages[i].ConversationID == conversationID {
			out = append(out, cloneMessage(m.messages[i]))
		}
	}
	return out, nil
}

// Messages returns a conversation's messages oldest-first with pagination.
func (m *MemStore) Messages(_ context.Context, conversationID uuid.UUID, limit, offset int32) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, cloneMessage(msg))
		}
	}
	return page(out, limit, offset), nil
}

// AllMessages returns every stored message in insertion order.
func (m *MemStore) AllMessages() []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Message, len(m.messages))
	for i, msg := range m.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

func page[T any](items []T, limit, offset int32) []T {
	if offset >= int32(len(items)) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int32(len(items)) > limit {
		items = items[:limit]
	}
	return items
}

func cloneConversation(c *store.Conversation) *store.Conversation {
	out := *c
	return &out
}

func cloneMessage(m *store.Message) *store.Message {
	out := *m
	out.InputImages = append([]string(nil), m.InputImages...)
	out.GeneratedImages = append([]agent.ImageRef(nil), m.GeneratedImages...)
	out.ToolCalls = append([]agent.ToolCallRecord(nil), m.ToolCalls...)
	return &out
}
