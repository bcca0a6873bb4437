package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/chat"
	"github.com/atelierhq/atelier/internal/sse"
)

// maxRequestBody bounds the chat request size (inline images included).
const maxRequestBody = 20 << 20

// TurnRunner drives one streaming turn. *chat.Orchestrator satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, req chat.TurnRequest, t chat.Transport) error
}

// chatHandler serves the streaming chat endpoint.
type chatHandler struct {
	runner TurnRunner
	logger *slog.Logger
}

// ImageInput is one request image: either inline-embedded or a reference.
type ImageInput struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64 body when inline
	URL      string `json:"url,omitempty"`  // pre-resolved reference
}

// ChatRequest is the streaming chat request body.
type ChatRequest struct {
	ConversationID string       `json:"conversationId,omitempty"`
	Text           string       `json:"text,omitempty"`
	Images         []ImageInput `json:"images,omitempty"`
}

// stream handles POST /api/v1/chat/stream. Input validation happens before
// the SSE stream opens: a malformed body gets a structured JSON error with
// no SSE framing. After the stream is open, every failure is a terminal
// error event.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	if req.Text == "" && len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "EMPTY_MESSAGE", "text or images required")
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_CONVERSATION_ID", "conversationId must be a UUID")
			return
		}
		conversationID = parsed
	}

	inputImages := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		switch {
		case img.URL != "":
			inputImages = append(inputImages, img.URL)
		case img.Data != "":
			mime := img.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			inputImages = append(inputImages, "data:"+mime+";base64,"+img.Data)
		default:
			writeError(w, http.StatusBadRequest, "INVALID_IMAGE", "image needs url or data")
			return
		}
	}

	stream, err := sse.New(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	turn := chat.TurnRequest{
		ConversationID: conversationID,
		OwnerID:        ownerFromContext(r.Context()),
		Text:           req.Text,
		InputImages:    inputImages,
	}

	if err := h.runner.Run(r.Context(), turn, stream); err != nil {
		if errors.Is(err, chat.ErrClientGone) {
			h.logger.Info("chat stream client gone")
			return
		}
		h.logger.Error("chat stream failed", "error", err)
	}
}
