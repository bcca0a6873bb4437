// Package store persists conversations and messages in PostgreSQL.
//
// Message updates are whole-field overwrites keyed by message id
// (last-writer-wins); concurrent writers to the same message are not a
// supported scenario, the turn orchestrator owns a message for its duration.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atelierhq/atelier/internal/agent"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// Message status values. A message starts as generating when it is an
// assistant placeholder and must end the turn as sent or failed.
const (
	StatusGenerating = "generating"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Conversation is one chat thread.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one stored conversation message.
type Message struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	Role            string
	Status          string
	Content         string
	InputImages     []string
	GeneratedImages []agent.ImageRef
	ToolCalls       []agent.ToolCallRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageUpdate is a whole-field overwrite of a message's mutable columns.
type MessageUpdate struct {
	Status          string
	Content         string
	GeneratedImages []agent.ImageRef
	ToolCalls       []agent.ToolCallRecord
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides conversation and message persistence.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateConversation creates a new conversation.
func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (*Conversation, error) {
	c := &Conversation{OwnerID: ownerID, Title: title}
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversations (owner_id, title) VALUES ($1, NULLIF($2, ''))
		 RETURNING id, created_at, updated_at`,
		ownerID, title,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", c.ID)
	return c, nil
}

// GetConversation retrieves a conversation by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c := &Conversation{ID: id}
	var title *string
	err := s.db.QueryRow(ctx,
		`SELECT owner_id, title, created_at, updated_at FROM conversations WHERE id = $1`,
		id,
	).Scan(&c.OwnerID, &title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	if title != nil {
		c.Title = *title
	}
	return c, nil
}

// ListConversations lists an owner's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID string, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM conversations WHERE owner_id = $1
		 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c := &Conversation{}
		var title *string
		if err := rows.Scan(&c.ID, &c.OwnerID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if title != nil {
			c.Title = *title
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// TouchConversation bumps the conversation's updated_at.
func (s *Store) TouchConversation(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return nil
}

// InsertMessage inserts a message. The caller supplies the id (generated when
// zero) so a placeholder's identifier is known before the row exists elsewhere.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}

	inputImages, generated, toolCalls, err := marshalMessageJSON(m.InputImages, m.GeneratedImages, m.ToolCalls)
	if err != nil {
		return err
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, role, status, content, input_images, generated_images, tool_calls)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		m.ID, m.ConversationID, m.Role, m.Status, m.Content, inputImages, generated, toolCalls,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	s.logger.Debug("inserted message", "id", m.ID, "role", m.Role, "status", m.Status)
	return nil
}

// UpdateMessage overwrites a message's mutable fields (status, content,
// generated images, tool calls) and bumps updated_at.
func (s *Store) UpdateMessage(ctx context.Context, id uuid.UUID, upd MessageUpdate) error {
	_, generated, toolCalls, err := marshalMessageJSON(nil, upd.GeneratedImages, upd.ToolCalls)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE messages
		 SET status = $2, content = $3, generated_images = $4, tool_calls = $5, updated_at = now()
		 WHERE id = $1`,
		id, upd.Status, upd.Content, generated, toolCalls,
	)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetMessage retrieves one message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, conversation_id, role, status, content, input_images, generated_images, tool_calls, created_at, updated_at
		 FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// RecentMessages returns up to limit messages of a conversation in the
// store's natural newest-first order.
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, status, content, input_images, generated_images, tool_calls, created_at, updated_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY seq DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return out, nil
}

// Messages returns a conversation's messages oldest-first with pagination,
// for the read API.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, status, content, input_images, generated_images, tool_calls, created_at, updated_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY seq ASC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return out, nil
}

func marshalMessageJSON(inputImages []string, generated []agent.ImageRef, toolCalls []agent.ToolCallRecord) (ii, gi, tc []byte, err error) {
	if inputImages == nil {
		inputImages = []string{}
	}
	if generated == nil {
		generated = []agent.ImageRef{}
	}
	if toolCalls == nil {
		toolCalls = []agent.ToolCallRecord{}
	}
	if ii, err = json.Marshal(inputImages); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal input images: %w", err)
	}
	if gi, err = json.Marshal(generated); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal generated images: %w", err)
	}
	if tc, err = json.Marshal(toolCalls); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	return ii, gi, tc, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	var inputImages, generated, toolCalls []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Status, &m.Content,
		&inputImages, &generated, &toolCalls, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputImages, &m.InputImages); err != nil {
		return nil, fmt.Errorf("unmarshal input images: %w", err)
	}
	if err := json.Unmarshal(generated, &m.GeneratedImages); err != nil {
		return nil, fmt.Errorf("unmarshal generated images: %w", err)
	}
	if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	return m, nil
}
