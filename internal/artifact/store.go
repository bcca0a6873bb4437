package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store records artifact metadata rows in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Save upserts an artifact row. Re-persisting the same id is a no-op update,
// which keeps Persist idempotent for the caller.
func (s *Store) Save(ctx context.Context, a *Artifact) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO artifacts (id, owner_id, location, mime_type, byte_size, source, prompt)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		 ON CONFLICT (id) DO UPDATE
		 SET location = EXCLUDED.location, mime_type = EXCLUDED.mime_type, byte_size = EXCLUDED.byte_size
		 RETURNING created_at`,
		a.ID, a.OwnerID, a.Location, a.MIMEType, a.ByteSize, a.Source, a.Prompt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", a.ID, err)
	}
	s.logger.Debug("saved artifact", "id", a.ID, "mime", a.MIMEType, "bytes", a.ByteSize)
	return nil
}

// Get retrieves an artifact row by id.
// Returns ErrNotFound if the artifact does not exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	a := &Artifact{ID: id}
	var prompt *string
	err := s.db.QueryRow(ctx,
		`SELECT owner_id, location, mime_type, byte_size, source, prompt, created_at
		 FROM artifacts WHERE id = $1`, id,
	).Scan(&a.OwnerID, &a.Location, &a.MIMEType, &a.ByteSize, &a.Source, &prompt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	if prompt != nil {
		a.Prompt = *prompt
	}
	return a, nil
}
