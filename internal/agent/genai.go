package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GenAI is the production Loop implementation backed by the Gemini API.
// It drives a bounded function-calling iteration: stream one model response,
// execute any requested tools, feed the results back, repeat until the model
// answers without tool calls.
type GenAI struct {
	client    *genai.Client
	model     string
	tools     []Tool
	maxRounds int
	logger    *slog.Logger
}

// NewGenAIClient creates a Gemini API client.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// NewGenAI creates a GenAI loop.
func NewGenAI(client *genai.Client, model string, tools []Tool, maxRounds int, logger *slog.Logger) *GenAI {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRounds < 1 {
		maxRounds = 8
	}
	return &GenAI{
		client:    client,
		model:     model,
		tools:     tools,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

const systemPrompt = `You are an assistant that can generate images, analyze images, and read web pages through the tools provided. Use a tool when the user's request needs one; otherwise answer directly. Keep answers concise.`

// Stream implements Loop.
func (g *GenAI) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		contents := g.buildContents(req)
		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Tools:             g.declarations(),
		}

		for round := 0; round < g.maxRounds; round++ {
			var (
				calls      []*genai.FunctionCall
				modelParts []*genai.Part
			)

			for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
				if err != nil {
					yield(Event{}, fmt.Errorf("%w: %w", ErrExecutionFailed, err))
					return
				}
				if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
					continue
				}
				for _, part := range resp.Candidates[0].Content.Parts {
					switch {
					case part.FunctionCall != nil:
						calls = append(calls, part.FunctionCall)
						modelParts = append(modelParts, part)
					case part.Thought && part.Text != "":
						if !yield(Event{Type: EventThinking, Message: part.Text}, nil) {
							return
						}
					case part.Text != "":
						modelParts = append(modelParts, part)
						if !yield(Event{Type: EventTextDelta, Delta: part.Text}, nil) {
							return
						}
					case part.InlineData != nil:
						img := Image{
							ID:      uuid.NewString(),
							Payload: encodeDataURL(part.InlineData.MIMEType, part.InlineData.Data),
						}
						if !yield(Event{Type: EventImage, Image: &img}, nil) {
							return
						}
					}
				}
			}

			if len(calls) == 0 {
				yield(Event{Type: EventDone}, nil)
				return
			}

			contents = append(contents, genai.NewContentFromParts(modelParts, genai.RoleModel))

			var responseParts []*genai.Part
			for _, call := range calls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					args = json.RawMessage("{}")
				}
				if !yield(Event{Type: EventToolStart, Tool: call.Name, Arguments: args}, nil) {
					return
				}

				result, err := g.dispatch(ctx, call.Name, args)
				if err != nil {
					yield(Event{}, fmt.Errorf("%w: tool %s: %w", ErrExecutionFailed, call.Name, err))
					return
				}
				if !yield(Event{Type: EventToolResult, Tool: call.Name, Arguments: args, Result: &result}, nil) {
					return
				}

				responseParts = append(responseParts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       call.ID,
						Name:     call.Name,
						Response: functionResponse(result),
					},
				})
			}
			contents = append(contents, genai.NewContentFromParts(responseParts, genai.RoleUser))
		}

		// The model kept requesting tools past the round bound; surface it as
		// a loop-level error event so the turn terminates cleanly.
		yield(Event{Type: EventError, Message: fmt.Sprintf("tool call limit reached after %d rounds", g.maxRounds)}, nil)
	}
}

// dispatch runs one registered tool. An unknown tool name is reported back to
// the model as a failed result rather than aborting the turn.
func (g *GenAI) dispatch(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	for _, t := range g.tools {
		if t.Name() == name {
			g.logger.Debug("tool call", "tool", name)
			return t.Call(ctx, args)
		}
	}
	g.logger.Warn("model requested unregistered tool", "tool", name)
	return ToolResult{OK: false, Message: fmt.Sprintf("%s: %s", ErrUnknownTool, name)}, nil
}

func (g *GenAI) declarations() []*genai.Tool {
	if len(g.tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(g.tools))
	for _, t := range g.tools {
		props := make(map[string]*genai.Schema, len(t.Params()))
		var required []string
		for _, p := range t.Params() {
			props[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// buildContents maps history plus the new user message onto genai contents.
// Inline data URLs become blobs; plain URL references stay textual since the
// binary is not at hand here.
func (g *GenAI) buildContents(req Request) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range req.History {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := messageParts(msg.Text, msg.InputImages)
		for _, ref := range msg.GeneratedImages {
			parts = append(parts, genai.NewPartFromText("[generated image: "+ref.URL+"]"))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	contents = append(contents, genai.NewContentFromParts(
		messageParts(req.Text, req.InputImages), genai.RoleUser))
	return contents
}

func messageParts(text string, images []string) []*genai.Part {
	var parts []*genai.Part
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, img := range images {
		if mime, data, ok := decodeDataURL(img); ok {
			parts = append(parts, genai.NewPartFromBytes(data, mime))
			continue
		}
		parts = append(parts, genai.NewPartFromText("[image: "+img+"]"))
	}
	return parts
}

// functionResponse is the lean shape fed back to the model: success flag,
// message, and image identifiers only. Binary payloads never round-trip.
func functionResponse(r ToolResult) map[string]any {
	resp := map[string]any{"ok": r.OK}
	if r.Message != "" {
		resp["message"] = r.Message
	}
	if len(r.Images) > 0 {
		ids := make([]string, len(r.Images))
		for i, img := range r.Images {
			ids[i] = img.ID
		}
		resp["imageIds"] = ids
	}
	return resp
}

func encodeDataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeDataURL splits a data URL into its MIME type and decoded bytes.
// Returns ok=false for anything that is not a well-formed base64 data URL.
func decodeDataURL(s string) (mime string, data []byte, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", nil, false
	}
	meta, body, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", nil, false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, false
	}
	return mime, decoded, true
}
