// Package prompt renders .prompt sources into configured, role-tagged
// message lists.
package prompt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/kayz/dotprompt/internal/frontmatter"
	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/picoschema"
)

// Options configures a Renderer.
type Options struct {
	// DefaultModel applies when neither the prompt nor the call names a model.
	DefaultModel string
	// ModelConfigs holds per-model default configuration keyed by model id.
	ModelConfigs map[string]map[string]any

	// Helpers are registered next to the built-in helpers and replace
	// built-ins of the same name.
	Helpers map[string]any

	Partials        map[string]string
	PartialResolver PartialResolver

	Tools        map[string]ToolDefinition
	ToolResolver ToolResolver

	Schemas        map[string]picoschema.Node
	SchemaResolver picoschema.Resolver
	// LenientSchemas compiles unknown schema references as unconstrained.
	LenientSchemas bool
}

// Renderer compiles and renders prompt sources. It holds no mutable state
// and is safe for concurrent use.
type Renderer struct {
	opts     Options
	compiler *picoschema.Compiler
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	return &Renderer{
		opts: opts,
		compiler: picoschema.NewCompiler(picoschema.Options{
			Resolver: picoschema.Chain(picoschema.MapResolver(opts.Schemas), opts.SchemaResolver),
			Lenient:  opts.LenientSchemas,
		}),
	}
}

// Template is a compiled prompt, ready to render repeatedly.
type Template struct {
	r       *Renderer
	doc     Prompt
	tpl     *raymond.Template
	options map[string]any
}

// Prompt returns the parsed source.
func (t *Template) Prompt() Prompt { return t.doc }

// Parse parses source without compiling its template.
func (r *Renderer) Parse(source string) (Prompt, error) {
	return frontmatter.Parse(source)
}

// Compile parses source, compiles its template and resolves its partials.
// options become defaults for every Render of the returned Template.
func (r *Renderer) Compile(ctx context.Context, source string, options map[string]any) (*Template, error) {
	doc, err := r.Parse(source)
	if err != nil {
		return nil, err
	}
	return r.CompilePrompt(ctx, doc, options)
}

// CompilePrompt is Compile for an already parsed prompt.
func (r *Renderer) CompilePrompt(ctx context.Context, doc Prompt, options map[string]any) (*Template, error) {
	tpl, err := raymond.Parse(doc.Template)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := r.registerHelpers(tpl); err != nil {
		return nil, err
	}
	if err := r.registerPartials(ctx, tpl, doc.Template); err != nil {
		return nil, err
	}
	return &Template{r: r, doc: doc, tpl: tpl, options: options}, nil
}

// Render compiles source and renders it once.
func (r *Renderer) Render(ctx context.Context, source string, data DataArgument, options map[string]any) (*RenderedPrompt, error) {
	t, err := r.Compile(ctx, source, nil)
	if err != nil {
		return nil, err
	}
	return t.Render(ctx, data, options)
}

// Render renders the template with data. options override the options the
// template was compiled with.
func (t *Template) Render(ctx context.Context, data DataArgument, options map[string]any) (*RenderedPrompt, error) {
	opts := mergeMaps(t.options, options)
	r := t.r

	model := ResolveModel(t.doc.Config, opts, r.opts.DefaultModel)
	vars := RenderContext(r.opts.ModelConfigs[model], t.doc.Config, opts, data)

	frame := raymond.NewDataFrame()
	for k, v := range PrivateData(data) {
		frame.Set(k, unescaped(v))
	}
	out, err := t.tpl.ExecWith(unescaped(vars), frame)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	cfg, err := r.RenderMetadata(ctx, t.doc, opts)
	if err != nil {
		return nil, err
	}
	gen := GenerationConfig(r.opts.ModelConfigs[model], t.doc.Config, opts)

	msgs := message.Assemble(out, data.Messages)
	logger.Debug("rendered prompt %q: model=%s messages=%d", t.doc.Name(), model, len(msgs))
	return &RenderedPrompt{Config: cfg, Messages: msgs, Generation: gen}, nil
}

// RenderMetadata computes the result configuration of doc without rendering
// its template: merged config, resolved tools and compiled schemas.
func (r *Renderer) RenderMetadata(ctx context.Context, doc Prompt, options map[string]any) (map[string]any, error) {
	model := ResolveModel(doc.Config, options, r.opts.DefaultModel)
	defaults := r.opts.ModelConfigs[model]
	cfg := ResultConfig(defaults, doc.Config, options)
	if _, ok := cfg["model"]; !ok && model != "" {
		cfg["model"] = model
	}

	cfg, err := r.resolveTools(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return r.CompileSchemas(ctx, cfg)
}

// CompileSchemas compiles the input and output schemas of config.
func (r *Renderer) CompileSchemas(ctx context.Context, config map[string]any) (map[string]any, error) {
	return CompileSchemas(ctx, r.compiler, config)
}

func (r *Renderer) registerHelpers(tpl *raymond.Template) (err error) {
	helpers := builtinHelpers()
	for name, h := range r.opts.Helpers {
		helpers[name] = h
	}
	// raymond panics on helpers that are not functions with one result.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("register helpers: %v", rec)
		}
	}()
	tpl.RegisterHelpers(helpers)
	return nil
}

var partialRef = regexp.MustCompile(`{{~?#?>\s*([^\s}()~]+)`)

// registerPartials registers every partial reachable from source, each once.
// A partial that includes itself through any chain fails with ErrPartialCycle.
func (r *Renderer) registerPartials(ctx context.Context, tpl *raymond.Template, source string) error {
	return r.walkPartials(ctx, tpl, source, map[string]bool{}, nil)
}

func (r *Renderer) walkPartials(ctx context.Context, tpl *raymond.Template, source string, registered map[string]bool, loading []string) error {
	for _, m := range partialRef.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if strings.HasPrefix(name, "@") || registered[name] {
			continue
		}
		for _, l := range loading {
			if l == name {
				return fmt.Errorf("%w: %s", ErrPartialCycle, strings.Join(append(loading, name), " -> "))
			}
		}

		body, found, err := r.loadPartial(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve partial %q: %w", name, err)
		}
		if !found {
			logger.Debug("partial %q not found", name)
			continue
		}
		if err := r.walkPartials(ctx, tpl, body, registered, append(loading, name)); err != nil {
			return err
		}
		tpl.RegisterPartial(name, body)
		registered[name] = true
	}
	return nil
}

func (r *Renderer) loadPartial(ctx context.Context, name string) (string, bool, error) {
	if body, ok := r.opts.Partials[name]; ok {
		return body, true, nil
	}
	if r.opts.PartialResolver == nil {
		return "", false, nil
	}
	return r.opts.PartialResolver.ResolvePartial(ctx, name)
}

// resolveTools moves tools with known definitions from "tools" to
// "toolDefs". Without a ToolResolver unknown names stay in "tools".
func (r *Renderer) resolveTools(ctx context.Context, cfg map[string]any) (map[string]any, error) {
	names := stringList(cfg["tools"])
	if names == nil {
		return cfg, nil
	}

	defs := toolDefs(cfg["toolDefs"])
	var unresolved []string
	for _, name := range names {
		if def, ok := r.opts.Tools[name]; ok {
			defs = append(defs, def)
			continue
		}
		if r.opts.ToolResolver == nil {
			unresolved = append(unresolved, name)
			continue
		}
		def, found, err := r.opts.ToolResolver.ResolveTool(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve tool %q: %w", name, err)
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
		}
		defs = append(defs, def)
	}

	out := mergeMaps(cfg)
	delete(out, "tools")
	if len(unresolved) > 0 {
		out["tools"] = unresolved
	}
	if len(defs) > 0 {
		out["toolDefs"] = defs
	}
	return out, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// toolDefs reads tool definitions declared inline in front matter.
func toolDefs(v any) []ToolDefinition {
	switch t := v.(type) {
	case []ToolDefinition:
		return append([]ToolDefinition(nil), t...)
	case []any:
		var out []ToolDefinition
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			def := ToolDefinition{InputSchema: m["inputSchema"], OutputSchema: m["outputSchema"]}
			def.Name, _ = m["name"].(string)
			def.Description, _ = m["description"].(string)
			out = append(out, def)
		}
		return out
	}
	return nil
}
