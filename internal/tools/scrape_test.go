package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/log"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Lighthouse Maintenance</title></head>
<body>
<article>
<h1>Lighthouse Maintenance</h1>
<p>Keeping the lamp clean is the single most important task for any keeper.
Salt spray builds up on the lens over the course of a week and dims the beam
noticeably. A dim beam has been the cause of more than one grounding.</p>
<p>The second task is the clockwork. It must be wound every morning before
the fog rolls in, because a stopped light rotation looks like a ship at
anchor from the water.</p>
</article>
</body>
</html>`

// allowAll lets tests point the scraper at a loopback httptest server.
func allowAll(*url.URL) error { return nil }

func scrapeArgs(t *testing.T, u string) json.RawMessage {
	t.Helper()
	args, err := json.Marshal(ScrapeInput{URL: u})
	require.NoError(t, err)
	return args
}

func TestScrapeTool_ExtractsReadableContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	tool := NewScrapeTool(0, log.NewNop())
	tool.validate = allowAll

	result, err := tool.Call(context.Background(), scrapeArgs(t, srv.URL))
	require.NoError(t, err)
	require.True(t, result.OK, "result: %s", result.Message)
	assert.Contains(t, result.Message, "Lighthouse Maintenance")
	assert.Contains(t, result.Message, "Salt spray builds up")
	assert.NotContains(t, result.Message, "<p>", "markup is stripped")
}

func TestScrapeTool_NonOKStatusIsFailedResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tool := NewScrapeTool(0, log.NewNop())
	tool.validate = allowAll

	result, err := tool.Call(context.Background(), scrapeArgs(t, srv.URL))
	require.NoError(t, err, "fetch failures are results, not errors")
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "status 404")
}

func TestScrapeTool_TruncatesLongPages(t *testing.T) {
	t.Parallel()

	long := "<html><head><title>Big</title></head><body><p>" +
		strings.Repeat("word ", 10000) + "</p></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	tool := NewScrapeTool(0, log.NewNop())
	tool.validate = allowAll

	result, err := tool.Call(context.Background(), scrapeArgs(t, srv.URL))
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Contains(t, result.Message, "[truncated]")
	assert.Less(t, len(result.Message), scrapeMaxChars+100)
}

func TestScrapeTool_RejectsUnsafeURLs(t *testing.T) {
	t.Parallel()

	tool := NewScrapeTool(0, log.NewNop())

	for _, target := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http://localhost:8080/admin",
		"http://127.0.0.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5/internal",
		"http://metadata.internal/",
		"http://0.0.0.0/",
	} {
		result, err := tool.Call(context.Background(), scrapeArgs(t, target))
		require.NoError(t, err, "url %s", target)
		assert.False(t, result.OK, "url %s must be rejected", target)
	}
}

func TestScrapeTool_BadArguments(t *testing.T) {
	t.Parallel()

	tool := NewScrapeTool(0, log.NewNop())
	_, err := tool.Call(context.Background(), json.RawMessage("not json"))
	require.Error(t, err)
}

func TestValidateScrapeURL(t *testing.T) {
	t.Parallel()

	ok := func(raw string) error {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return validateScrapeURL(u)
	}

	assert.Error(t, ok("https://"))
	assert.Error(t, ok("http://LOCALHOST/x"))
	assert.Error(t, ok("http://service.internal/x"))
	assert.Error(t, ok("http://192.168.1.1/"))
	assert.Error(t, ok("http://[::1]/"))
}

func TestScrapeTool_Contract(t *testing.T) {
	t.Parallel()

	tool := NewScrapeTool(0, log.NewNop())
	assert.Equal(t, "scrape_page", tool.Name())
	assert.NotEmpty(t, tool.Description())

	params := tool.Params()
	require.Len(t, params, 1)
	assert.Equal(t, "url", params[0].Name)
	assert.True(t, params[0].Required)
}
