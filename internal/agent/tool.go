package agent

import (
	"context"
	"encoding/json"
)

// Param describes one string-typed tool parameter.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Tool is a request/response function the loop may invoke. Implementations
// live in internal/tools; the loop only needs the declaration and Call.
//
// Call returns (result, nil) for tool-level failures the model should see;
// a non-nil error aborts the turn.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Call(ctx context.Context, args json.RawMessage) (ToolResult, error)
}
