package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/artifact"
	"github.com/atelierhq/atelier/internal/chat"
	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/internal/testutil"
)

// runnerFunc adapts a function to TurnRunner.
type runnerFunc func(ctx context.Context, req chat.TurnRequest, t chat.Transport) error

func (f runnerFunc) Run(ctx context.Context, req chat.TurnRequest, t chat.Transport) error {
	return f(ctx, req, t)
}

// fakeOpener serves fixed artifact bytes.
type fakeOpener struct {
	content map[uuid.UUID]string
	mime    string
}

func (o *fakeOpener) Open(_ context.Context, id uuid.UUID) (io.ReadCloser, string, error) {
	c, ok := o.content[id]
	if !ok {
		return nil, "", fmt.Errorf("artifact %s: %w", id, artifact.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(c)), o.mime, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type serverOptions struct {
	runner    TurnRunner
	store     ConversationStore
	opener    ArtifactOpener
	pinger    Pinger
	authToken string
	cors      []string
	rateBurst int
}

func newTestServer(t *testing.T, opts serverOptions) *Server {
	t.Helper()
	if opts.runner == nil {
		opts.runner = runnerFunc(func(context.Context, chat.TurnRequest, chat.Transport) error {
			return nil
		})
	}
	if opts.store == nil {
		opts.store = testutil.NewMemStore()
	}
	if opts.opener == nil {
		opts.opener = &fakeOpener{content: map[uuid.UUID]string{}}
	}
	s, err := NewServer(ServerConfig{
		Logger:        log.NewNop(),
		Runner:        opts.runner,
		Conversations: opts.store,
		Artifacts:     opts.opener,
		Pinger:        opts.pinger,
		AuthToken:     opts.authToken,
		CORSOrigins:   opts.cors,
		RateBurst:     opts.rateBurst,
	})
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewServer(ServerConfig{
		Conversations: testutil.NewMemStore(),
		Artifacts:     &fakeOpener{},
	})
	require.Error(t, err)

	_, err = NewServer(ServerConfig{
		Runner:    runnerFunc(func(context.Context, chat.TurnRequest, chat.Transport) error { return nil }),
		Artifacts: &fakeOpener{},
	})
	require.Error(t, err)
}

func TestAuth_RejectsBeforeAnyTurnState(t *testing.T) {
	t.Parallel()

	called := false
	s := newTestServer(t, serverOptions{
		authToken: "secret-token",
		runner: runnerFunc(func(context.Context, chat.TurnRequest, chat.Transport) error {
			called = true
			return nil
		}),
	})

	body := `{"text":"hello"}`

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
		assert.False(t, called, "the runner must not be reached")
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer wrong")
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, called)
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	t.Run("database reachable", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, serverOptions{
			pinger: pingerFunc(func(context.Context) error { return nil }),
		})
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, serverOptions{
			pinger: pingerFunc(func(context.Context) error { return errors.New("refused") }),
		})
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "degraded")
	})
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{rateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		s.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{cors: []string{"https://app.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	// Unknown origins get no CORS grant.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{})

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"), "a request id is assigned")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, "trace-42", w.Header().Get("X-Request-ID"), "inbound ids are honored")
}

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{
		runner: runnerFunc(func(context.Context, chat.TurnRequest, chat.Transport) error {
			panic("boom")
		}),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"text":"hi"}`))
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() { s.ServeHTTP(w, req) })
}

func TestWriteError_Shape(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "bad body")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_REQUEST", body.Error.Code)
	assert.Equal(t, "bad body", body.Error.Message)
}
