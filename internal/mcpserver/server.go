// Package mcpserver exposes stored prompts over the Model Context Protocol.
// Every prompt becomes an MCP prompt whose arguments are the properties of
// its input schema; a "render" tool returns the full rendered prompt as JSON.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kayz/dotprompt/internal/audit"
	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/picoschema"
	"github.com/kayz/dotprompt/internal/prompt"
	"github.com/kayz/dotprompt/internal/store"
)

const serverName = "dotprompt"

// Server serves prompts from a store.
type Server struct {
	store    store.Store
	renderer *prompt.Renderer
	audit    *audit.Log
	mcp      *server.MCPServer
}

// New creates a Server. Prompts are registered by Refresh.
func New(st store.Store, r *prompt.Renderer, log *audit.Log, version string) *Server {
	s := &Server{
		store:    st,
		renderer: r,
		audit:    log,
		mcp: server.NewMCPServer(serverName, version,
			server.WithPromptCapabilities(true),
			server.WithToolCapabilities(false),
		),
	}
	s.mcp.AddTool(mcp.NewTool("render",
		mcp.WithDescription("Render a stored prompt and return its configuration and messages as JSON."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Prompt name")),
		mcp.WithString("variant", mcp.Description("Prompt variant")),
		mcp.WithObject("input", mcp.Description("Template input")),
	), s.handleRender)
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves MCP over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// PromptName is the MCP name of a stored prompt: name, or name.variant.
func PromptName(ref store.PromptRef) string {
	if ref.Variant == "" {
		return ref.Name
	}
	return ref.Name + "." + ref.Variant
}

// Refresh registers every prompt in the store. It returns the number of
// prompts registered; prompts that fail to parse are skipped with a warning.
func (s *Server) Refresh(ctx context.Context) (int, error) {
	refs, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list prompts: %w", err)
	}
	n := 0
	for _, ref := range refs {
		p, err := s.describe(ctx, ref)
		if err != nil {
			logger.Warn("mcp: skipping prompt %q: %v", PromptName(ref), err)
			continue
		}
		s.mcp.AddPrompt(p, s.promptHandler(ref))
		n++
	}
	logger.Info("mcp: registered %d prompts", n)
	return n, nil
}

// describe builds the MCP prompt for ref from its metadata.
func (s *Server) describe(ctx context.Context, ref store.PromptRef) (mcp.Prompt, error) {
	data, err := s.store.Load(ctx, ref.Name, store.LoadOptions{Variant: ref.Variant})
	if err != nil {
		return mcp.Prompt{}, err
	}
	doc, err := s.renderer.Parse(data.Source)
	if err != nil {
		return mcp.Prompt{}, err
	}
	cfg, err := s.renderer.RenderMetadata(ctx, doc, nil)
	if err != nil {
		return mcp.Prompt{}, err
	}

	opts := []mcp.PromptOption{}
	if d := doc.Description(); d != "" {
		opts = append(opts, mcp.WithPromptDescription(d))
	}
	for _, arg := range inputArguments(cfg) {
		argOpts := []mcp.ArgumentOption{}
		if arg.Description != "" {
			argOpts = append(argOpts, mcp.ArgumentDescription(arg.Description))
		}
		if arg.Required {
			argOpts = append(argOpts, mcp.RequiredArgument())
		}
		opts = append(opts, mcp.WithArgument(arg.Name, argOpts...))
	}
	return mcp.NewPrompt(PromptName(ref), opts...), nil
}

type argument struct {
	Name        string
	Description string
	Required    bool
	Type        string
}

// inputArguments lists the top-level properties of the compiled input schema.
func inputArguments(cfg map[string]any) []argument {
	input, _ := cfg["input"].(map[string]any)
	obj, ok := input["schema"].(picoschema.Object)
	if !ok {
		return nil
	}
	required := make(map[string]bool, len(obj.Required))
	for _, r := range obj.Required {
		required[r] = true
	}
	args := make([]argument, 0, len(obj.Properties))
	for _, p := range obj.Properties {
		arg := argument{Name: p.Name, Required: required[p.Name]}
		switch n := p.Schema.(type) {
		case picoschema.Scalar:
			arg.Description, arg.Type = n.Description, n.Type
		case picoschema.Object:
			arg.Description, arg.Type = n.Description, "object"
		case picoschema.Array:
			arg.Description, arg.Type = n.Description, "array"
		case picoschema.Enum:
			arg.Description = n.Description
		}
		args = append(args, arg)
	}
	return args
}

// coerce converts string arguments to the types the input schema declares.
// Values that do not parse are passed through as strings.
func coerce(cfg map[string]any, raw map[string]string) map[string]any {
	types := map[string]string{}
	for _, a := range inputArguments(cfg) {
		types[a.Name] = a.Type
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
		switch types[k] {
		case "integer":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
			}
		case "number":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				out[k] = f
			}
		case "boolean":
			if b, err := strconv.ParseBool(v); err == nil {
				out[k] = b
			}
		case "object", "array":
			var decoded any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				out[k] = decoded
			}
		}
	}
	return out
}

func (s *Server) promptHandler(ref store.PromptRef) server.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		doc, out, err := s.render(ctx, ref, func(cfg map[string]any) map[string]any {
			return coerce(cfg, req.Params.Arguments)
		})
		if err != nil {
			return nil, err
		}
		return mcp.NewGetPromptResult(doc.Description(), promptMessages(out.Messages)), nil
	}
}

// render loads, renders and audits one prompt. input builds the template
// input from the prompt's metadata.
func (s *Server) render(ctx context.Context, ref store.PromptRef, input func(cfg map[string]any) map[string]any) (prompt.Prompt, *prompt.RenderedPrompt, error) {
	data, err := s.store.Load(ctx, ref.Name, store.LoadOptions{Variant: ref.Variant})
	if err != nil {
		return prompt.Prompt{}, nil, err
	}
	t, err := s.renderer.Compile(ctx, data.Source, nil)
	if err != nil {
		return prompt.Prompt{}, nil, err
	}
	cfg, err := s.renderer.RenderMetadata(ctx, t.Prompt(), nil)
	if err != nil {
		return prompt.Prompt{}, nil, err
	}
	arg := prompt.DataArgument{Input: input(cfg)}
	out, renderErr := t.Render(ctx, arg, nil)
	if err := s.audit.Write(audit.NewRecord(ref.Name, ref.Variant, data.Version, arg, out, renderErr)); err != nil {
		logger.Warn("mcp: audit write failed: %v", err)
	}
	if renderErr != nil {
		return prompt.Prompt{}, nil, renderErr
	}
	return t.Prompt(), out, nil
}

func (s *Server) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, ok := req.Params.Arguments["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	variant, _ := req.Params.Arguments["variant"].(string)
	input, _ := req.Params.Arguments["input"].(map[string]any)

	ref := store.PromptRef{Name: name, Variant: variant}
	_, out, err := s.render(ctx, ref, func(map[string]any) map[string]any { return input })
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render %s: %v", PromptName(ref), err)), nil
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// promptMessages converts rendered messages to MCP prompt messages, one per
// part. MCP has no system role, so system and tool turns are sent as user.
func promptMessages(msgs []message.Message) []mcp.PromptMessage {
	var out []mcp.PromptMessage
	for _, m := range msgs {
		role := mcp.RoleUser
		if m.Role == message.RoleModel {
			role = mcp.RoleAssistant
		}
		for _, part := range m.Content {
			out = append(out, mcp.NewPromptMessage(role, promptContent(part)))
		}
	}
	return out
}

func promptContent(part message.Part) mcp.Content {
	switch v := part.(type) {
	case message.MediaPart:
		if mime, data, ok := strings.Cut(strings.TrimPrefix(v.URL, "data:"), ";base64,"); ok && strings.HasPrefix(v.URL, "data:") {
			if v.ContentType != "" {
				mime = v.ContentType
			}
			if strings.HasPrefix(mime, "image/") {
				return mcp.NewImageContent(data, mime)
			}
		}
		return mcp.NewTextContent(fmt.Sprintf("[media: %s]", v.URL))
	case message.TextPart:
		return mcp.NewTextContent(v.Text)
	}
	return mcp.NewTextContent("")
}
