package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/store"
)

// ConversationStore is the read/create access the conversation API needs.
// *store.Store satisfies it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	ListConversations(ctx context.Context, ownerID string, limit, offset int32) ([]*store.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*store.Message, error)
}

type conversationHandler struct {
	store  ConversationStore
	logger *slog.Logger
}

// ConversationView is the API shape of a conversation.
type ConversationView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageView is the API shape of a stored message, the record exposed to
// later reads after a turn completes.
type MessageView struct {
	ID              string                 `json:"id"`
	Role            string                 `json:"role"`
	Status          string                 `json:"status"`
	Content         string                 `json:"content"`
	InputImages     []string               `json:"inputImages,omitempty"`
	GeneratedImages []agent.ImageRef       `json:"generatedImages,omitempty"`
	ToolCalls       []agent.ToolCallRecord `json:"toolCalls,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// list handles GET /api/v1/conversations.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 1<<30)

	convs, err := h.store.ListConversations(r.Context(), ownerFromContext(r.Context()), limit, offset)
	if err != nil {
		h.logger.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, conversationView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// create handles POST /api/v1/conversations.
func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), ownerFromContext(r.Context()), req.Title)
	if err != nil {
		h.logger.Error("create conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, conversationView(conv))
}

// messages handles GET /api/v1/conversations/{id}/messages.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
			return
		}
		h.logger.Error("get conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	if conv.OwnerID != ownerFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}

	msgs, err := h.store.Messages(r.Context(), id, queryInt(r, "limit", 100, 500), queryInt(r, "offset", 0, 1<<30))
	if err != nil {
		h.logger.Error("list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, MessageView{
			ID:              m.ID.String(),
			Role:            m.Role,
			Status:          m.Status,
			Content:         m.Content,
			InputImages:     m.InputImages,
			GeneratedImages: m.GeneratedImages,
			ToolCalls:       m.ToolCalls,
			CreatedAt:       m.CreatedAt,
			UpdatedAt:       m.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

func conversationView(c *store.Conversation) ConversationView {
	return ConversationView{
		ID:        c.ID.String(),
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func queryInt(r *http.Request, key string, def, max int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	if int32(n) > max {
		return max
	}
	return int32(n)
}
