// Package tool implements the permission protocol for provider tool loops.
// Read tools are always allowed, write tools are gated by the request's
// write/yolo flags plus an optional permission callback, and unknown tools
// are allowed because the provider-side sandbox is trusted.
package tool

import (
	"context"
	"log/slog"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// PermissionResult carries the decision plus an optional reason shown to the
// provider when a tool is denied.
type PermissionResult struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// PermissionCallback is consulted for write tools when neither write_enabled
// nor yolo_mode settles the question.
type PermissionCallback func(ctx context.Context, toolName string, input map[string]any) PermissionResult

// AfterToolCallback observes completed tool executions. Failures inside the
// callback are logged, never propagated.
type AfterToolCallback func(toolName string, input map[string]any, output string)

var readTools = map[string]struct{}{
	"file-read":         {},
	"code-search":       {},
	"list-files":        {},
	"project-structure": {},
}

var writeTools = map[string]struct{}{
	"file-write": {},
	"edit":       {},
	"delete":     {},
	"mkdir":      {},
}

// IsReadTool reports whether the tool is on the read whitelist.
func IsReadTool(name string) bool {
	_, ok := readTools[name]
	return ok
}

// IsWriteTool reports whether the tool mutates the workspace.
func IsWriteTool(name string) bool {
	_, ok := writeTools[name]
	return ok
}

// Policy evaluates tool permissions for one tool loop.
type Policy struct {
	WriteEnabled bool
	YoloMode     bool
	Callback     PermissionCallback
	AfterTool    AfterToolCallback
}

// PreToolUse decides whether a tool may run.
func (p *Policy) PreToolUse(ctx context.Context, toolName string, input map[string]any) PermissionResult {
	if IsReadTool(toolName) {
		return PermissionResult{Decision: Allow}
	}

	if IsWriteTool(toolName) {
		switch {
		case !p.WriteEnabled:
			return PermissionResult{Decision: Deny, Reason: "write tools are disabled for this session"}
		case p.YoloMode:
			return PermissionResult{Decision: Allow}
		case p.Callback != nil:
			return p.Callback(ctx, toolName, input)
		default:
			return PermissionResult{Decision: Deny, Reason: "no permission callback configured"}
		}
	}

	// Unknown tools run inside the provider sandbox.
	return PermissionResult{Decision: Allow}
}

// PostToolUse fires the observation callback. It never blocks the loop.
func (p *Policy) PostToolUse(toolName string, input map[string]any, output string) {
	if p.AfterTool == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("after_tool callback panicked", "tool", toolName, "panic", r)
		}
	}()
	p.AfterTool(toolName, input, output)
}
