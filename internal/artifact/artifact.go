// Package artifact stores generated image binaries durably and resolves them
// back for delivery.
//
// Persistence is best-effort by design: a turn must never fail because the
// blob store or the metadata row was unreachable. When persistence fails the
// persister returns the original payload unchanged and logs the failure, so
// the client sees an inline or stale reference instead of a dead turn.
package artifact

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
)

// Artifact is a persisted binary with provenance metadata. Created once per
// generated image, never mutated; removal happens only by external cascade.
type Artifact struct {
	ID        uuid.UUID
	OwnerID   string
	Location  string // blob path on disk
	MIMEType  string
	ByteSize  int64
	Source    string // producing tool or loop stage
	Prompt    string // generation prompt, when known
	CreatedAt time.Time
}

// Provenance describes where an artifact came from.
type Provenance struct {
	Source string
	Prompt string
}
