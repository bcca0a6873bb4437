// Package sse provides the Server-Sent Events transport for streaming agent
// turns: JSON-payload events plus a comment-line keep-alive signal.
//
// One Stream wraps one client connection. The connection is a single-writer
// resource: every write goes through one mutex so the heartbeat and the main
// event loop can never interleave two frames.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Stream writes SSE frames to one live connection.
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// New wraps an http.ResponseWriter for SSE streaming and sets the response
// headers. Fails if the writer does not support flushing.
func New(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Stream{w: w, flusher: flusher}, nil
}

// Send writes one event frame: "event: <name>\ndata: <json>\n\n".
// Safe for concurrent use; frames are written whole, in call order.
func (s *Stream) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", event, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write event %s: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// Comment writes a bare comment line. Intermediaries treat it as traffic but
// clients ignore it, which makes it the liveness signal.
func (s *Stream) Comment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// StartHeartbeat emits a keep-alive comment every interval until stop is
// called or a write fails. The returned stop function is idempotent and must
// be called on every termination path, including error paths.
func (s *Stream) StartHeartbeat(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.Comment(); err != nil {
					// Connection is gone; the main loop will notice on its
					// next write. Stop signalling.
					return
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
