package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/log"
)

func TestGenerateImageTool_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a lighthouse at dusk", req["prompt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images":[{"mimeType":"image/jpeg","data":"anBlZ2JvZHk="}]}`))
	}))
	defer srv.Close()

	tool := NewGenerateImageTool(srv.URL, log.NewNop())
	result, err := tool.Call(context.Background(), json.RawMessage(`{"prompt":"a lighthouse at dusk"}`))
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Images, 1)
	assert.NotEmpty(t, result.Images[0].ID)
	assert.True(t, strings.HasPrefix(result.Images[0].Payload, "data:image/jpeg;base64,"))
}

func TestGenerateImageTool_BackendFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tool := NewGenerateImageTool(srv.URL, log.NewNop())
	result, err := tool.Call(context.Background(), json.RawMessage(`{"prompt":"x"}`))
	require.NoError(t, err, "backend failures are failed results")
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "image generation failed")
}

func TestGenerateImageTool_EmptyPrompt(t *testing.T) {
	t.Parallel()

	tool := NewGenerateImageTool("http://unused.invalid", log.NewNop())
	result, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestAnalyzeImageTool_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://cdn.example/pic.png", req["url"])

		_, _ = w.Write([]byte(`{"description":"a red bicycle leaning on a wall"}`))
	}))
	defer srv.Close()

	tool := NewAnalyzeImageTool(srv.URL, log.NewNop())
	result, err := tool.Call(context.Background(),
		json.RawMessage(`{"url":"https://cdn.example/pic.png","question":"what is it?"}`))
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, "a red bicycle leaning on a wall", result.Message)
	assert.Empty(t, result.Images)
}

func TestAnalyzeImageTool_MissingURL(t *testing.T) {
	t.Parallel()

	tool := NewAnalyzeImageTool("http://unused.invalid", log.NewNop())
	result, err := tool.Call(context.Background(), json.RawMessage(`{"question":"?"}`))
	require.NoError(t, err)
	assert.False(t, result.OK)
}
