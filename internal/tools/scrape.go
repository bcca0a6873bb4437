package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/atelierhq/atelier/internal/agent"
)

const (
	scrapeTimeout      = 30 * time.Second
	scrapeMaxRedirects = 10
	scrapeMaxChars     = 20000 // content returned to the model
)

// ScrapeTool fetches a web page and extracts its readable content.
//
// Security: blocks non-http(s) schemes, loopback/private/link-local hosts,
// and cloud metadata endpoints (SSRF), limits response size, redirects, and
// total time.
type ScrapeTool struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
	validate func(*url.URL) error
}

// ScrapeInput is the tool argument shape.
type ScrapeInput struct {
	URL string `json:"url"`
}

// NewScrapeTool creates a ScrapeTool.
func NewScrapeTool(maxBytes int64, logger *slog.Logger) *ScrapeTool {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &ScrapeTool{
		maxBytes: maxBytes,
		logger:   logger,
		validate: validateScrapeURL,
	}
	t.client = &http.Client{
		Timeout: scrapeTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= scrapeMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", scrapeMaxRedirects)
			}
			return t.validate(req.URL)
		},
	}
	return t
}

func (t *ScrapeTool) Name() string { return "scrape_page" }

func (t *ScrapeTool) Description() string {
	return "Fetch a web page and return its readable text content. Use for reading articles, documentation, or any URL the user provides."
}

func (t *ScrapeTool) Params() []agent.Param {
	return []agent.Param{
		{Name: "url", Description: "The http(s) URL of the page to read", Required: true},
	}
}

// Call fetches and extracts the page. Fetch and parse failures are reported
// as failed results so the model can recover; only argument decoding is a
// hard error.
func (t *ScrapeTool) Call(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
	var input ScrapeInput
	if err := json.Unmarshal(args, &input); err != nil {
		return agent.ToolResult{}, fmt.Errorf("decode scrape arguments: %w", err)
	}

	parsed, err := url.Parse(input.URL)
	if err != nil {
		return failed("invalid url: " + err.Error()), nil
	}
	if err := t.validate(parsed); err != nil {
		t.logger.Warn("scrape url rejected", "url", input.URL, "error", err)
		return failed("url rejected: " + err.Error()), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return failed("build request: " + err.Error()), nil
	}
	req.Header.Set("User-Agent", "atelier/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return failed("fetch failed: " + err.Error()), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Sprintf("fetch failed: status %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return failed("read body: " + err.Error()), nil
	}

	title, text := extract(body, parsed)
	if text == "" {
		return failed("no readable content found"), nil
	}
	if len(text) > scrapeMaxChars {
		text = text[:scrapeMaxChars] + "\n[truncated]"
	}

	msg := text
	if title != "" {
		msg = title + "\n\n" + text
	}
	return agent.ToolResult{OK: true, Message: msg}, nil
}

// extract runs readability first and falls back to a plain goquery text dump
// for pages readability cannot model (e.g. index pages).
func extract(body []byte, pageURL *url.URL) (title, text string) {
	article, err := readability.FromReader(strings.NewReader(string(body)), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, strings.TrimSpace(article.TextContent)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())
	text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return title, text
}

// validateScrapeURL rejects URLs that could reach internal services.
func validateScrapeURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("host %q not allowed", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return validateIP(ip)
	}
	// Resolve to catch names pointing into private ranges.
	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	for _, ip := range addrs {
		if err := validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func validateIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("address %s not allowed", ip)
	}
	return nil
}

func failed(msg string) agent.ToolResult {
	return agent.ToolResult{OK: false, Message: msg}
}
