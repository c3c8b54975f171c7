package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kayz/dotprompt/internal/frontmatter"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/picoschema"
)

func render(t *testing.T, r *Renderer, source string, data DataArgument) *RenderedPrompt {
	t.Helper()
	out, err := r.Render(context.Background(), source, data, nil)
	require.NoError(t, err)
	return out
}

func texts(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Text()
	}
	return out
}

func TestRenderSimpleSubstitution(t *testing.T) {
	out := render(t, New(Options{}), "Hello {{name}}!", DataArgument{Input: map[string]any{"name": "World"}})
	require.Len(t, out.Messages, 1)
	require.Equal(t, message.RoleUser, out.Messages[0].Role)
	require.Equal(t, []message.Part{message.TextPart{Text: "Hello World!"}}, out.Messages[0].Content)
}

func TestRenderDoesNotEscape(t *testing.T) {
	out := render(t, New(Options{}), "{{snippet}} {{#each items}}{{this}};{{/each}}", DataArgument{Input: map[string]any{
		"snippet": `<b>"a" & 'b'</b>`,
		"items":   []any{"<x>", "y&z"},
	}})
	require.Equal(t, `<b>"a" & 'b'</b> <x>;y&z;`, out.Messages[0].Text())
}

func TestRenderRolesAndHistory(t *testing.T) {
	source := `---
model: test/model
---
{{role "system"}}You are {{persona}}.
{{history}}
{{role "user"}}{{question}}`

	history := []message.Message{
		{Role: message.RoleUser, Content: []message.Part{message.TextPart{Text: "earlier"}}},
		{Role: message.RoleModel, Content: []message.Part{message.TextPart{Text: "reply"}}},
	}
	out := render(t, New(Options{}), source, DataArgument{
		Input:    map[string]any{"persona": "terse", "question": "why?"},
		Messages: history,
	})
	require.Equal(t, []string{
		"system:You are terse.\n",
		"user:earlier",
		"model:reply",
		"user:\nwhy?",
	}, texts(out.Messages))
	require.Equal(t, message.PurposeHistory, out.Messages[1].Metadata[message.MetadataPurpose])
	require.Nil(t, history[0].Metadata)
}

func TestRenderMediaAndSection(t *testing.T) {
	out := render(t, New(Options{}), `Look: {{media url=img contentType="image/png"}}{{section "notes"}}done`,
		DataArgument{Input: map[string]any{"img": "https://example.com/a.png"}})
	require.Len(t, out.Messages, 1)
	require.Equal(t, []message.Part{
		message.TextPart{Text: "Look: "},
		message.MediaPart{URL: "https://example.com/a.png", ContentType: "image/png"},
		message.TextPart{Text: message.SectionMarkerText("notes")},
		message.TextPart{Text: "done"},
	}, out.Messages[0].Content)
}

func TestRenderStateAsPrivateData(t *testing.T) {
	out := render(t, New(Options{}), "step {{@state.step}}", DataArgument{
		Context: map[string]any{"state": map[string]any{"step": "two"}},
	})
	require.Equal(t, "step two", out.Messages[0].Text())
}

func TestRenderEqualityHelpers(t *testing.T) {
	source := `{{#ifEquals kind "a"}}is-a{{else}}not-a{{/ifEquals}} {{#unlessEquals kind "b"}}not-b{{/unlessEquals}}`
	out := render(t, New(Options{}), source, DataArgument{Input: map[string]any{"kind": "a"}})
	require.Equal(t, "is-a not-b", out.Messages[0].Text())

	out = render(t, New(Options{}), source, DataArgument{Input: map[string]any{"kind": "b"}})
	require.Equal(t, "not-a ", out.Messages[0].Text())
}

func TestRenderJSONHelper(t *testing.T) {
	out := render(t, New(Options{}), `{{json obj}}|{{json obj indent=2}}`, DataArgument{Input: map[string]any{
		"obj": map[string]any{"a": "<1>"},
	}})
	require.Equal(t, "{\"a\":\"\\u003c1\\u003e\"}|{\n  \"a\": \"\\u003c1\\u003e\"\n}", out.Messages[0].Text())
}

func TestRenderUserHelpers(t *testing.T) {
	r := New(Options{Helpers: map[string]any{
		"shout": func(s string) string { return s + "!" },
	}})
	out := render(t, r, `{{shout word}}`, DataArgument{Input: map[string]any{"word": "hey"}})
	require.Equal(t, "hey!", out.Messages[0].Text())

	_, err := New(Options{Helpers: map[string]any{"bad": 42}}).Render(context.Background(), "x", DataArgument{}, nil)
	require.Error(t, err)
}

func TestRenderInputDefaults(t *testing.T) {
	source := `---
input:
  default:
    name: Guest
---
Hi {{name}}`
	out := render(t, New(Options{}), source, DataArgument{})
	require.Equal(t, "Hi Guest", out.Messages[0].Text())

	out = render(t, New(Options{}), source, DataArgument{Input: map[string]any{"name": "Ada"}})
	require.Equal(t, "Hi Ada", out.Messages[0].Text())
}

func TestRenderMetadataModelDefaults(t *testing.T) {
	r := New(Options{
		DefaultModel: "fallback",
		ModelConfigs: map[string]map[string]any{
			"X":        {"topP": 0.9, "temperature": 0.1},
			"fallback": {"topK": 3},
		},
	})
	doc, err := r.Parse("---\nmodel: X\nconfig:\n  temperature: 0.5\n---\nbody")
	require.NoError(t, err)

	cfg, err := r.RenderMetadata(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, "X", cfg["model"])
	require.Equal(t, map[string]any{"temperature": 0.5}, cfg["config"])
	require.Equal(t, 0.9, cfg["topP"])
	require.Equal(t, 0.1, cfg["temperature"])
	require.NotContains(t, cfg, "topK")

	doc, err = r.Parse("body")
	require.NoError(t, err)
	cfg, err = r.RenderMetadata(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, "fallback", cfg["model"])
	require.Equal(t, 3, cfg["topK"])
}

func TestRenderGenerationPrecedence(t *testing.T) {
	r := New(Options{ModelConfigs: map[string]map[string]any{
		"X": {"topP": 0.9, "temperature": 0.1, "topK": 5},
	}})
	out, err := r.Render(context.Background(), "---\nmodel: X\nconfig:\n  topK: 8\n---\nhi",
		DataArgument{}, map[string]any{"temperature": 0.7})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"topP": 0.9, "temperature": 0.7, "topK": 8}, out.Generation)
	require.Equal(t, 0.7, out.Config["temperature"])
	require.Equal(t, map[string]any{"topK": 8}, out.Config["config"])
}

func TestRenderCompilesSchemas(t *testing.T) {
	source := `---
input:
  schema:
    name: string
output:
  format: json
  schema:
    address: Address, where
---
{{name}}`
	r := New(Options{Schemas: map[string]picoschema.Node{
		"Address": picoschema.Object{Properties: []picoschema.Property{{Name: "city", Schema: picoschema.Scalar{Type: "string"}}}},
	}})
	out := render(t, r, source, DataArgument{Input: map[string]any{"name": "n"}})

	in := out.Config["input"].(map[string]any)["schema"].(picoschema.Object)
	require.Equal(t, "name", in.Properties[0].Name)

	outSchema := out.Config["output"].(map[string]any)["schema"].(picoschema.Object)
	addr, ok := outSchema.Property("address")
	require.True(t, ok)
	require.Equal(t, "where", addr.(picoschema.Object).Description)
}

func TestRenderSchemaResolverError(t *testing.T) {
	boom := errors.New("backend down")
	r := New(Options{SchemaResolver: picoschema.ResolverFunc(func(ctx context.Context, name string) (picoschema.Node, bool, error) {
		return nil, false, boom
	})})
	_, err := r.Render(context.Background(), "---\noutput:\n  schema: Thing\n---\nx", DataArgument{}, nil)
	require.ErrorIs(t, err, boom)
}

func TestRenderInvalidFrontmatter(t *testing.T) {
	_, err := New(Options{}).Render(context.Background(), "---\n: [\n---\nx", DataArgument{}, nil)
	require.ErrorIs(t, err, frontmatter.ErrInvalidFrontmatter)
}

func TestCompiledTemplateRendersRepeatedly(t *testing.T) {
	r := New(Options{})
	tpl, err := r.Compile(context.Background(), "---\nname: greet\n---\nHi {{name}} ({{tone}})", map[string]any{"tone": "warm"})
	require.NoError(t, err)
	require.Equal(t, "greet", tpl.Prompt().Name())

	a, err := tpl.Render(context.Background(), DataArgument{Input: map[string]any{"name": "A"}}, nil)
	require.NoError(t, err)
	b, err := tpl.Render(context.Background(), DataArgument{Input: map[string]any{"name": "B"}}, map[string]any{"tone": "cold"})
	require.NoError(t, err)
	require.Equal(t, "Hi A (warm)", a.Messages[0].Text())
	require.Equal(t, "Hi B (cold)", b.Messages[0].Text())
}

func TestPartials(t *testing.T) {
	resolved := 0
	r := New(Options{
		Partials: map[string]string{"header": "[{{> sig}}]"},
		PartialResolver: PartialResolverFunc(func(ctx context.Context, name string) (string, bool, error) {
			resolved++
			if name == "sig" {
				return "by {{author}}", true, nil
			}
			return "", false, nil
		}),
	})
	out := render(t, r, "{{> header}} body {{> sig}}", DataArgument{Input: map[string]any{"author": "me"}})
	require.Equal(t, "[by me] body by me", out.Messages[0].Text())
	require.Equal(t, 1, resolved, "partials are loaded once per compile")
}

func TestPartialCycle(t *testing.T) {
	r := New(Options{Partials: map[string]string{
		"a": "A {{> b}}",
		"b": "B {{> a}}",
		"s": "{{> s}}",
	}})
	_, err := r.Compile(context.Background(), "{{> a}}", nil)
	require.ErrorIs(t, err, ErrPartialCycle)
	require.Contains(t, err.Error(), "a -> b -> a")

	_, err = r.Compile(context.Background(), "{{> s}}", nil)
	require.ErrorIs(t, err, ErrPartialCycle)
}

func TestPartialResolverError(t *testing.T) {
	boom := errors.New("boom")
	r := New(Options{PartialResolver: PartialResolverFunc(func(ctx context.Context, name string) (string, bool, error) {
		return "", false, boom
	})})
	_, err := r.Compile(context.Background(), "{{> x}}", nil)
	require.ErrorIs(t, err, boom)
}

func TestToolResolution(t *testing.T) {
	lookup := ToolDefinition{Name: "lookup", Description: "find things"}
	remote := ToolDefinition{Name: "remote"}
	source := "---\ntools: [lookup, remote]\n---\nx"

	r := New(Options{
		Tools: map[string]ToolDefinition{"lookup": lookup},
		ToolResolver: ToolResolverFunc(func(ctx context.Context, name string) (ToolDefinition, bool, error) {
			if name == "remote" {
				return remote, true, nil
			}
			return ToolDefinition{}, false, nil
		}),
	})
	out := render(t, r, source, DataArgument{})
	require.Equal(t, []ToolDefinition{lookup, remote}, out.Config["toolDefs"])
	require.NotContains(t, out.Config, "tools")

	_, err := r.Render(context.Background(), "---\ntools: [missing]\n---\nx", DataArgument{}, nil)
	require.ErrorIs(t, err, ErrUnknownTool)

	noResolver := New(Options{Tools: map[string]ToolDefinition{"lookup": lookup}})
	out = render(t, noResolver, source, DataArgument{})
	require.Equal(t, []string{"remote"}, out.Config["tools"])
	require.Equal(t, []ToolDefinition{lookup}, out.Config["toolDefs"])
}

func TestToolDefsFromFrontmatter(t *testing.T) {
	source := `---
toolDefs:
  - name: inline
    description: declared here
---
x`
	out := render(t, New(Options{}), source, DataArgument{})
	require.Equal(t, []any{map[string]any{"name": "inline", "description": "declared here"}}, out.Config["toolDefs"])
}
