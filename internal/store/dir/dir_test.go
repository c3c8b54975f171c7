package dir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kayz/dotprompt/internal/prompt"
	"github.com/kayz/dotprompt/internal/store"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestListAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "greet.prompt", "Hello {{name}}")
	writeFile(t, root, "greet.formal.prompt", "Good day {{name}}")
	writeFile(t, root, "support/triage.prompt", "triage")
	writeFile(t, root, "_footer.prompt", "-- bye")
	writeFile(t, root, "notes.txt", "ignored")
	writeFile(t, root, "schemas/Thing.yaml", "a: string")

	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	refs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, store.PromptRef{Name: "greet", Version: store.Version("Hello {{name}}")}, refs[0])
	require.Equal(t, "formal", refs[1].Variant)
	require.Equal(t, "support/triage", refs[2].Name)

	partials, err := s.ListPartials(ctx)
	require.NoError(t, err)
	require.Len(t, partials, 1)
	require.Equal(t, "footer", partials[0].Name)

	p, err := s.Load(ctx, "greet", store.LoadOptions{Variant: "formal"})
	require.NoError(t, err)
	require.Equal(t, "Good day {{name}}", p.Source)

	p, err = s.Load(ctx, "support/triage", store.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "triage", p.Source)

	_, err = s.Load(ctx, "greet", store.LoadOptions{Version: "deadbeef"})
	require.ErrorIs(t, err, store.ErrVersionMismatch)

	_, err = s.Load(ctx, "missing", store.LoadOptions{})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Load(ctx, "../escape", store.LoadOptions{})
	require.Error(t, err)
}

func TestSaveAndDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, store.PromptData{PromptRef: store.PromptRef{Name: "a/b", Variant: "v1"}, Source: "x"}))
	require.NoError(t, s.SavePartial(ctx, store.PromptData{PromptRef: store.PromptRef{Name: "part"}, Source: "y"}))

	_, err = os.Stat(filepath.Join(s.Root(), "a", "b.v1.prompt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Root(), "_part.prompt"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "a/b", "v1"))
	require.NoError(t, s.Delete(ctx, "part", ""))
	require.ErrorIs(t, s.Delete(ctx, "part", ""), store.ErrNotFound)
}

func TestSchemas(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveSchema(ctx, "Address", "city: string\n"))
	names, err := s.ListSchemas(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Address"}, names)

	_, err = s.LoadSchema(ctx, "Nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRenderFromDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "order.prompt", `---
output:
  schema:
    shipTo: Address
---
{{> header}}Ship {{item}}.`)
	writeFile(t, root, "_header.prompt", "[shop] ")
	writeFile(t, root, "schemas/Address.yaml", "city: string\n")

	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := s.Load(ctx, "order", store.LoadOptions{})
	require.NoError(t, err)

	r := prompt.New(prompt.Options{
		PartialResolver: store.PartialResolver(s),
		SchemaResolver:  store.SchemaResolver(s),
	})
	out, err := r.Render(ctx, p.Source, prompt.DataArgument{Input: map[string]any{"item": "socks"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "[shop] Ship socks.", out.Messages[0].Text())
	require.Contains(t, out.Config, "output")
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		variant string
		ok      bool
	}{
		{"greet.prompt", "greet", "", true},
		{"greet.formal.prompt", "greet", "formal", true},
		{"a.b.c.prompt", "", "", false},
		{".prompt", "", "", false},
		{"greet.txt", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, variant, ok := ParseFilename(tt.in)
			if name != tt.name || variant != tt.variant || ok != tt.ok {
				t.Fatalf("ParseFilename(%q) = %q, %q, %v", tt.in, name, variant, ok)
			}
		})
	}
}
