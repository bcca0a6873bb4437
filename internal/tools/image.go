package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
)

const imageToolTimeout = 120 * time.Second

// imageBackendClient posts JSON to an image service endpoint. Both image
// tools share it; the services themselves are external collaborators with a
// plain request/response contract.
type imageBackendClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func newImageBackendClient(endpoint string, logger *slog.Logger) imageBackendClient {
	if logger == nil {
		logger = slog.Default()
	}
	return imageBackendClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: imageToolTimeout},
		logger:   logger,
	}
}

func (c imageBackendClient) post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s: status %d: %s", c.endpoint, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GenerateImageTool produces an image from a text prompt via the configured
// generation backend.
type GenerateImageTool struct {
	backend imageBackendClient
}

// GenerateImageInput is the tool argument shape.
type GenerateImageInput struct {
	Prompt string `json:"prompt"`
}

// NewGenerateImageTool creates a GenerateImageTool.
func NewGenerateImageTool(endpoint string, logger *slog.Logger) *GenerateImageTool {
	return &GenerateImageTool{backend: newImageBackendClient(endpoint, logger)}
}

func (t *GenerateImageTool) Name() string { return "generate_image" }

func (t *GenerateImageTool) Description() string {
	return "Generate an image from a text prompt. Returns the generated image so it can be shown to the user."
}

func (t *GenerateImageTool) Params() []agent.Param {
	return []agent.Param{
		{Name: "prompt", Description: "A detailed description of the image to generate", Required: true},
	}
}

// Call invokes the generation backend. Backend failures become failed
// results; the turn continues.
func (t *GenerateImageTool) Call(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
	var input GenerateImageInput
	if err := json.Unmarshal(args, &input); err != nil {
		return agent.ToolResult{}, fmt.Errorf("decode generate arguments: %w", err)
	}
	if input.Prompt == "" {
		return failed("prompt is required"), nil
	}

	var resp struct {
		Images []struct {
			MIMEType string `json:"mimeType"`
			Data     string `json:"data"` // base64 body
		} `json:"images"`
	}
	if err := t.backend.post(ctx, map[string]string{"prompt": input.Prompt}, &resp); err != nil {
		t.backend.logger.Warn("image generation failed", "error", err)
		return failed("image generation failed: " + err.Error()), nil
	}
	if len(resp.Images) == 0 {
		return failed("backend returned no images"), nil
	}

	images := make([]agent.Image, 0, len(resp.Images))
	for _, img := range resp.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		images = append(images, agent.Image{
			ID:      uuid.NewString(),
			Payload: "data:" + mime + ";base64," + img.Data,
		})
	}
	return agent.ToolResult{OK: true, Message: "image generated", Images: images}, nil
}

// AnalyzeImageTool describes the content of an image via the configured
// analysis backend.
type AnalyzeImageTool struct {
	backend imageBackendClient
}

// AnalyzeImageInput is the tool argument shape.
type AnalyzeImageInput struct {
	URL      string `json:"url"`
	Question string `json:"question"`
}

// NewAnalyzeImageTool creates an AnalyzeImageTool.
func NewAnalyzeImageTool(endpoint string, logger *slog.Logger) *AnalyzeImageTool {
	return &AnalyzeImageTool{backend: newImageBackendClient(endpoint, logger)}
}

func (t *AnalyzeImageTool) Name() string { return "analyze_image" }

func (t *AnalyzeImageTool) Description() string {
	return "Analyze an image at a URL and answer a question about it."
}

func (t *AnalyzeImageTool) Params() []agent.Param {
	return []agent.Param{
		{Name: "url", Description: "URL of the image to analyze", Required: true},
		{Name: "question", Description: "What to determine about the image", Required: false},
	}
}

// Call invokes the analysis backend.
func (t *AnalyzeImageTool) Call(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
	var input AnalyzeImageInput
	if err := json.Unmarshal(args, &input); err != nil {
		return agent.ToolResult{}, fmt.Errorf("decode analyze arguments: %w", err)
	}
	if input.URL == "" {
		return failed("url is required"), nil
	}

	var resp struct {
		Description string `json:"description"`
	}
	if err := t.backend.post(ctx, map[string]string{"url": input.URL, "question": input.Question}, &resp); err != nil {
		t.backend.logger.Warn("image analysis failed", "error", err)
		return failed("image analysis failed: " + err.Error()), nil
	}
	if resp.Description == "" {
		return failed("backend returned no description"), nil
	}
	return agent.ToolResult{OK: true, Message: resp.Description}, nil
}
