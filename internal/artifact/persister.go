package artifact

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Recorder is the metadata sink the persister writes rows to.
// *Store satisfies it; tests substitute a fake.
type Recorder interface {
	Save(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, id uuid.UUID) (*Artifact, error)
}

// Persister writes image binaries to the blob directory and records their
// metadata, returning a stable public URL.
type Persister struct {
	recorder Recorder
	dir      string
	baseURL  string
	logger   *slog.Logger
}

// NewPersister creates a Persister rooted at dir. URLs are baseURL + "/" + id.
func NewPersister(recorder Recorder, dir, baseURL string, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		recorder: recorder,
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// Persist stores one image payload under the given identifier and returns its
// public URL.
//
// The payload may be a base64 data URL, a bare base64 body, or an already
// resolved http(s) URL (returned unchanged). Any decode or I/O failure is
// logged and the original payload is returned unchanged; the caller's turn
// proceeds either way.
func (p *Persister) Persist(ctx context.Context, id, payload, ownerID string, prov Provenance) string {
	if payload == "" {
		return payload
	}
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return payload
	}

	mime, data, ok := decodePayload(payload)
	if !ok {
		p.logger.Warn("artifact payload not decodable, passing through", "id", id)
		return payload
	}

	artifactID := stableID(id)
	name := artifactID.String() + "." + mimeSubtype(mime)
	location := filepath.Join(p.dir, name)

	if err := os.MkdirAll(p.dir, 0750); err != nil {
		p.logger.Error("artifact dir unavailable, passing through", "id", id, "error", err)
		return payload
	}
	if err := os.WriteFile(location, data, 0640); err != nil {
		p.logger.Error("artifact write failed, passing through", "id", id, "error", err)
		return payload
	}

	a := &Artifact{
		ID:       artifactID,
		OwnerID:  ownerID,
		Location: location,
		MIMEType: mime,
		ByteSize: int64(len(data)),
		Source:   prov.Source,
		Prompt:   prov.Prompt,
	}
	if err := p.recorder.Save(ctx, a); err != nil {
		// The blob exists but the row does not; the URL would 404. Degrade to
		// the inline payload so the client still gets the image.
		p.logger.Error("artifact record failed, passing through", "id", id, "error", err)
		return payload
	}

	return p.URL(artifactID)
}

// URL returns the public URL for an artifact id.
func (p *Persister) URL(id uuid.UUID) string {
	return p.baseURL + "/" + id.String()
}

// Open resolves an artifact id back to its binary content and MIME type.
// Returns ErrNotFound for unknown identifiers.
func (p *Persister) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error) {
	a, err := p.recorder.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(a.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("artifact blob %s: %w", id, ErrNotFound)
		}
		return nil, "", fmt.Errorf("open artifact %s: %w", id, err)
	}
	return f, a.MIMEType, nil
}

// stableID maps the event-supplied identifier onto a UUID. Non-UUID ids get a
// deterministic UUID so re-persisting the same id stays idempotent.
func stableID(id string) uuid.UUID {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
}

// decodePayload accepts a data URL or a bare base64 body.
func decodePayload(payload string) (mime string, data []byte, ok bool) {
	if rest, found := strings.CutPrefix(payload, "data:"); found {
		meta, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return "", nil, false
		}
		mime = strings.TrimSuffix(meta, ";base64")
		if mime == "" {
			mime = "image/png"
		}
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return "", nil, false
		}
		return mime, decoded, true
	}

	// A short string that happens to be valid base64 is more likely plain
	// text than an image; require a plausible payload size.
	if len(payload) < 16 {
		return "", nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return "image/png", decoded, true
}

// mimeSubtype extracts the file extension from a MIME type.
func mimeSubtype(mime string) string {
	_, sub, found := strings.Cut(mime, "/")
	if !found || sub == "" {
		return "bin"
	}
	// image/svg+xml and friends
	if plus := strings.IndexByte(sub, '+'); plus > 0 {
		sub = sub[:plus]
	}
	return sub
}
