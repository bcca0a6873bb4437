package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/artifact"
	"github.com/atelierhq/atelier/internal/store"
)

// Persister is the artifact persistence collaborator. Persist never fails;
// on trouble it returns the payload unchanged (see internal/artifact).
type Persister interface {
	Persist(ctx context.Context, id, payload, ownerID string, prov artifact.Provenance) string
}

// Collector consumes raw agent events one at a time and produces their lean
// forms: image payloads persisted and rewritten to URLs, text deltas
// accumulated, tool calls recorded. The raw form of an image-bearing event is
// never forwarded or stored.
//
// A Collector belongs to exactly one turn and is not safe for concurrent use.
type Collector struct {
	persister Persister
	ownerID   string
	now       func() time.Time

	text   strings.Builder
	images []agent.ImageRef
	calls  []agent.ToolCallRecord
}

// NewCollector creates a Collector for one turn.
func NewCollector(persister Persister, ownerID string) *Collector {
	return &Collector{persister: persister, ownerID: ownerID, now: time.Now}
}

// Collect transforms one raw event into its lean, forwardable form and
// updates the running accumulators. thinking, tool_start, done and error
// pass through unchanged.
func (c *Collector) Collect(ctx context.Context, ev agent.Event) agent.Event {
	switch ev.Type {
	case agent.EventTextDelta:
		c.text.WriteString(ev.Delta)
		return ev

	case agent.EventToolResult:
		return c.collectToolResult(ctx, ev)

	case agent.EventImage:
		return c.collectImage(ctx, ev)

	default:
		return ev
	}
}

func (c *Collector) collectToolResult(ctx context.Context, ev agent.Event) agent.Event {
	lean := agent.LeanResult{}
	leanImages := []agent.Image(nil)
	if ev.Result != nil {
		lean.OK = ev.Result.OK
		lean.Message = ev.Result.Message
		for _, img := range ev.Result.Images {
			id := img.ID
			if id == "" {
				id = uuid.NewString()
			}
			url := img.URL
			if url == "" {
				url = c.persister.Persist(ctx, id, img.Payload, c.ownerID, artifact.Provenance{
					Source: ev.Tool,
					Prompt: promptFromArgs(ev.Arguments),
				})
			}
			lean.Images = append(lean.Images, agent.ImageRef{ID: id, URL: url})
			leanImages = append(leanImages, agent.Image{ID: id, URL: url})
		}
	}

	c.calls = append(c.calls, agent.ToolCallRecord{
		Tool:      ev.Tool,
		Arguments: ev.Arguments,
		Result:    lean,
		CalledAt:  c.now().UTC(),
	})

	leanResult := &agent.ToolResult{OK: lean.OK, Message: lean.Message, Images: leanImages}
	return agent.Event{Type: agent.EventToolResult, Tool: ev.Tool, Arguments: ev.Arguments, Result: leanResult}
}

func (c *Collector) collectImage(ctx context.Context, ev agent.Event) agent.Event {
	img := agent.Image{}
	if ev.Image != nil {
		img = *ev.Image
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.URL == "" {
		img.URL = c.persister.Persist(ctx, img.ID, img.Payload, c.ownerID, artifact.Provenance{
			Source: "agent_loop",
		})
	}

	ref := agent.ImageRef{ID: img.ID, URL: img.URL}
	c.images = append(c.images, ref)
	return agent.Event{Type: agent.EventImage, Image: &agent.Image{ID: ref.ID, URL: ref.URL}}
}

// Text returns the accumulated final text so far.
func (c *Collector) Text() string { return c.text.String() }

// HasContent reports whether the turn produced any text, image, or tool call.
func (c *Collector) HasContent() bool {
	return c.text.Len() > 0 || len(c.images) > 0 || len(c.calls) > 0
}

// Snapshot builds a whole-field message update from the current accumulators.
func (c *Collector) Snapshot(status string) store.MessageUpdate {
	images := make([]agent.ImageRef, len(c.images))
	copy(images, c.images)
	calls := make([]agent.ToolCallRecord, len(c.calls))
	copy(calls, c.calls)
	return store.MessageUpdate{
		Status:          status,
		Content:         c.text.String(),
		GeneratedImages: images,
		ToolCalls:       calls,
	}
}

// promptFromArgs pulls a "prompt" string out of tool arguments for artifact
// provenance. Absent or malformed arguments yield an empty prompt.
func promptFromArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var parsed struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ""
	}
	return parsed.Prompt
}
