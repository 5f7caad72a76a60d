// Package tool provides the tool registry and the concrete tools the model
// can call while answering a query: course content search and course
// outlines.
//
// The registry owns dispatch. Genkit registration (see Register functions)
// only exposes tool names, descriptions, and input schemas to the model; the
// orchestrator routes every requested call back through Registry.Dispatch.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTool indicates a second registration under the same name.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrUnknownTool indicates a dispatch to a name that was never registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// ExecError wraps a failure inside a tool's execution, keeping the tool name
// for diagnostics.
type ExecError struct {
	Tool string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Source is one attribution record produced by a tool call.
type Source struct {
	Label string `json:"label"`
	Link  string `json:"link,omitempty"`
}

// Result is the outcome of a successful tool call: the text handed back to
// the model plus the sources backing it.
type Result struct {
	Text    string
	Sources []Source
}

// Tool is a capability the model can invoke. Input arrives as raw JSON and
// each implementation decodes it into its own typed input struct.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Registry holds the registered tools and dispatches calls to them.
//
// Registration happens once at startup; after that the registry is read-only
// and safe for concurrent Dispatch.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A name can only be claimed once.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dispatch routes a call to the named tool. args is whatever the provider
// sent as tool input; it is re-encoded as JSON for the tool to decode.
//
// An unregistered name yields ErrUnknownTool; a failure inside the tool is
// wrapped in ExecError.
func (r *Registry) Dispatch(ctx context.Context, name string, args any) (*Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ExecError{Tool: name, Err: fmt.Errorf("encoding arguments: %w", err)}
	}

	res, err := t.Call(ctx, raw)
	if err != nil {
		return nil, &ExecError{Tool: name, Err: err}
	}
	return res, nil
}
