package prompt

import (
	"context"
	"errors"

	"github.com/kayz/dotprompt/internal/frontmatter"
	"github.com/kayz/dotprompt/internal/message"
)

var (
	// ErrPartialCycle is returned when a partial includes itself, directly or
	// through other partials.
	ErrPartialCycle = errors.New("partial cycle")
	// ErrUnknownTool is returned when a tool resolver does not know a tool
	// named by the prompt.
	ErrUnknownTool = errors.New("unknown tool")
)

// Prompt is a parsed prompt source.
type Prompt = frontmatter.Document

// DataArgument is the caller-supplied data for one render.
type DataArgument struct {
	Input    map[string]any    `json:"input,omitempty"`
	Messages []message.Message `json:"messages,omitempty"`
	// Context entries are exposed to the template as @-variables; the
	// "state" entry becomes @state.
	Context map[string]any `json:"context,omitempty"`
}

// RenderedPrompt is the output of a render.
type RenderedPrompt struct {
	Config   map[string]any    `json:"config"`
	Messages []message.Message `json:"messages"`
	// Generation holds the merged generation parameters (see
	// GenerationConfig). Nil for prompts not built by a Renderer.
	Generation map[string]any `json:"generation,omitempty"`
}

// ToolDefinition describes a tool a model may call.
type ToolDefinition struct {
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema  any    `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema any    `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
}

// PartialResolver loads partial templates by name. A missing partial is
// reported with found == false.
type PartialResolver interface {
	ResolvePartial(ctx context.Context, name string) (source string, found bool, err error)
}

// PartialResolverFunc adapts a function to PartialResolver.
type PartialResolverFunc func(ctx context.Context, name string) (string, bool, error)

func (f PartialResolverFunc) ResolvePartial(ctx context.Context, name string) (string, bool, error) {
	return f(ctx, name)
}

// ToolResolver loads tool definitions by name.
type ToolResolver interface {
	ResolveTool(ctx context.Context, name string) (def ToolDefinition, found bool, err error)
}

// ToolResolverFunc adapts a function to ToolResolver.
type ToolResolverFunc func(ctx context.Context, name string) (ToolDefinition, bool, error)

func (f ToolResolverFunc) ResolveTool(ctx context.Context, name string) (ToolDefinition, bool, error) {
	return f(ctx, name)
}

// Model returns the model id of the render, if any.
func (p *RenderedPrompt) Model() string {
	m, _ := p.Config["model"].(string)
	return m
}

// Tools returns the resolved tool definitions.
func (p *RenderedPrompt) Tools() []ToolDefinition {
	return toolDefs(p.Config["toolDefs"])
}

// Params returns the generation parameters of the render. Without a merged
// Generation map it falls back to the top-level config keys overlaid by the
// "config" map.
func (p *RenderedPrompt) Params() map[string]any {
	if p.Generation != nil {
		return p.Generation
	}
	return mergeMaps(generationKeys(p.Config), subMap(p.Config, "config"))
}

// Output returns the "output" section: the requested format and the compiled
// schema, either of which may be empty.
func (p *RenderedPrompt) Output() (format string, schema any) {
	out := subMap(p.Config, "output")
	format, _ = out["format"].(string)
	return format, out["schema"]
}
