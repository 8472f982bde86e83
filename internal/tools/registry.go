package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/taskbridge/internal/providers"
)

// Tool is one structured operation the LLM may request.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Registry holds the fixed tool set exposed to the LLM. The tool names and
// schemas are part of the contract the model is trained against and must stay
// stable.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// ProviderDefs returns the tool schemas in provider wire format, in stable
// name order.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool. Unknown tools and tool panics become error
// results for the model, never errors for the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ErrorResult(fmt.Sprintf(`{"error": "tool %s panicked: %v"}`, name, rec))
		}
	}()

	t, ok := r.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf(`{"error": "unknown tool: %s"}`, name))
	}
	return t.Execute(ctx, args)
}
