package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/artifact"
)

// ArtifactOpener resolves a stored artifact back to its content.
// *artifact.Persister satisfies it.
type ArtifactOpener interface {
	Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error)
}

// artifactHandler serves stored artifact binaries.
type artifactHandler struct {
	opener ArtifactOpener
	logger *slog.Logger
}

// get handles GET /api/v1/artifacts/{id}.
func (h *artifactHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "artifact not found")
		return
	}

	content, mime, err := h.opener.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "artifact not found")
			return
		}
		h.logger.Error("artifact open failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	defer func() { _ = content.Close() }()

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	if n, err := io.Copy(w, content); err != nil {
		h.logger.Debug("artifact write interrupted", "id", id, "bytes", strconv.FormatInt(n, 10), "error", err)
	}
}
