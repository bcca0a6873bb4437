package agent

import "errors"

var (
	// ErrExecutionFailed indicates the loop failed while driving the model.
	ErrExecutionFailed = errors.New("agent execution failed")

	// ErrModelUnavailable indicates the model backend could not be reached.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrRateLimited indicates the model backend rejected the request for quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnknownTool indicates the model requested a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
)
