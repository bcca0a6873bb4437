package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/store"
)

const incrementalWriteTimeout = 5 * time.Second

// MessageUpdater is the store subset the flusher writes through.
type MessageUpdater interface {
	UpdateMessage(ctx context.Context, id uuid.UUID, upd store.MessageUpdate) error
}

// flusher performs incremental message updates off the streaming loop.
// Pushes never block: a stale snapshot waiting in the queue is replaced by
// the newer one, and a failed write is only logged — the next snapshot or
// the final awaited write carries the state forward.
type flusher struct {
	updates  chan store.MessageUpdate
	done     chan struct{}
	stopOnce sync.Once
}

// newFlusher starts the single writer goroutine for one assistant message.
// Writes use a detached context so a canceled turn still flushes its last
// captured state.
func newFlusher(updater MessageUpdater, messageID uuid.UUID, logger *slog.Logger) *flusher {
	f := &flusher{
		updates: make(chan store.MessageUpdate, 1),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		for upd := range f.updates {
			ctx, cancel := context.WithTimeout(context.Background(), incrementalWriteTimeout)
			if err := updater.UpdateMessage(ctx, messageID, upd); err != nil {
				logger.Debug("incremental message update failed", "message", messageID, "error", err)
			}
			cancel()
		}
	}()
	return f
}

// push enqueues a snapshot without blocking, superseding any queued one.
func (f *flusher) push(upd store.MessageUpdate) {
	for {
		select {
		case f.updates <- upd:
			return
		default:
		}
		// Queue full: drop the stale snapshot and retry.
		select {
		case <-f.updates:
		default:
		}
	}
}

// stop drains the queue and waits for the writer to exit. Idempotent.
func (f *flusher) stop() {
	f.stopOnce.Do(func() { close(f.updates) })
	<-f.done
}
