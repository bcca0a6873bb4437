// Package api exposes the HTTP surface: the streaming chat endpoint, the
// artifact read path, conversation reads, and health probes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
)

// ServerConfig assembles the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Runner        TurnRunner        // required
	Conversations ConversationStore // required
	Artifacts     ArtifactOpener    // required
	Pinger        Pinger            // optional: nil skips the readiness DB ping
	AuthToken     string            // empty disables bearer auth
	CORSOrigins   []string
	RateBurst     int  // per-IP burst, 0 = default 60
	TrustProxy    bool // honor X-Forwarded-For
}

// Server is the HTTP server handler.
type Server struct {
	handler http.Handler
}

// NewServer wires routes and the middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("turn runner is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("artifact opener is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{runner: cfg.Runner, logger: logger}
	ah := &artifactHandler{opener: cfg.Artifacts, logger: logger}
	vh := &conversationHandler{store: cfg.Conversations, logger: logger}
	hh := &healthHandler{pinger: cfg.Pinger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/artifacts/{id}", ah.get)
	mux.HandleFunc("GET /api/v1/conversations", vh.list)
	mux.HandleFunc("POST /api/v1/conversations", vh.create)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", vh.messages)
	mux.HandleFunc("GET /healthz", hh.healthz)
	mux.HandleFunc("GET /readyz", hh.readyz)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID precedes Logging so request_id lands in log attributes; CORS
	// precedes RateLimit so preflight responses carry CORS headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.AuthToken)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{handler: handler}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
