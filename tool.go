package ember

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Tool is one agent capability, invoked by name with a raw JSON-args
// string parsed from the model's token stream. Call must be safe to run
// concurrently with other Call invocations of any tool (the orchestrator
// dispatches a turn's tool calls in parallel).
type Tool interface {
	// Name is the unique key exposed to the model and the registry.
	Name() string
	// Description documents the tool for both model and human consumers.
	Description() ToolDescription
	// Call executes the tool against a raw args string and returns the
	// content parts to append as the tool's result message.
	Call(ctx context.Context, args string) ([]Content, error)
}

// VisibilityTool is optionally implemented by a Tool to control whether it
// is advertised in the model-facing system prompt and/or offered for manual
// invocation in a human-facing tool list. Tools that do not implement this
// interface are treated as visible to both.
type VisibilityTool interface {
	VisibleToModel() bool
	VisibleToHuman() bool
}

// ToolRegistry maps tool names to handlers.
type ToolRegistry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewToolRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{tools: make(map[string]Tool), logger: logger}
}

// Add registers a tool. A second registration under the same name replaces
// the first and is logged, rather than silently shadowing it.
func (r *ToolRegistry) Add(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool registration replaced", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name, if any.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ModelVisible returns the descriptions of tools exposed to the model for
// the system-prompt tool catalogue, in registration order.
func (r *ToolRegistry) ModelVisible() []ToolDescription {
	var out []ToolDescription
	for _, name := range r.order {
		t := r.tools[name]
		if v, ok := t.(VisibilityTool); ok && !v.VisibleToModel() {
			continue
		}
		out = append(out, t.Description())
	}
	return out
}

// ListToolsToHuman returns the descriptions of tools available for manual
// invocation from a UI, in registration order.
func (r *ToolRegistry) ListToolsToHuman() []ToolDescription {
	var out []ToolDescription
	for _, name := range r.order {
		t := r.tools[name]
		if v, ok := t.(VisibilityTool); ok && !v.VisibleToHuman() {
			continue
		}
		out = append(out, t.Description())
	}
	return out
}

// Dispatch runs the named tool and converts its outcome into a Tools(use_id)
// message. A handler error (or an unknown tool name) is rendered as a
// single text content part rather than propagated, so that one failing
// call never aborts a batch of concurrent calls.
func (r *ToolRegistry) Dispatch(ctx context.Context, use ToolUse) Message {
	t, ok := r.tools[use.FunctionName]
	if !ok {
		return Message{
			Owner:   ToolsRole(use.UseID),
			Content: []Content{NewText(fmt.Sprintf("Tool '%s' failed: %s", use.FunctionName, ErrToolNotFound))},
		}
	}

	content, err := t.Call(ctx, use.Args)
	if err != nil {
		return Message{
			Owner:   ToolsRole(use.UseID),
			Content: []Content{NewText(fmt.Sprintf("Tool '%s' failed: %s", use.FunctionName, err))},
		}
	}
	return Message{Owner: ToolsRole(use.UseID), Content: content}
}

// DispatchParallel runs every tool use concurrently and returns the
// resulting messages in the same order as uses, join-all semantics: no
// individual failure aborts the batch.
func (r *ToolRegistry) DispatchParallel(ctx context.Context, uses []ToolUse) []Message {
	results := make([]Message, len(uses))
	var wg sync.WaitGroup
	wg.Add(len(uses))
	for i, use := range uses {
		go func(i int, use ToolUse) {
			defer wg.Done()
			results[i] = r.Dispatch(ctx, use)
		}(i, use)
	}
	wg.Wait()
	return results
}
