package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
	"github.com/kayz/dotprompt/internal/store"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prompts.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPromptRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, store.PromptData{PromptRef: store.PromptRef{Name: "greet"}, Source: "v1"}))
	require.NoError(t, s.Save(ctx, store.PromptData{PromptRef: store.PromptRef{Name: "greet"}, Source: "v2"}))
	require.NoError(t, s.Save(ctx, store.PromptData{PromptRef: store.PromptRef{Name: "greet", Variant: "short"}, Source: "s"}))
	require.NoError(t, s.SavePartial(ctx, store.PromptData{PromptRef: store.PromptRef{Name: "greet"}, Source: "partial"}))

	refs, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.PromptRef{
		{Name: "greet", Version: store.Version("v2")},
		{Name: "greet", Variant: "short", Version: store.Version("s")},
	}, refs)

	p, err := s.Load(ctx, "greet", store.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "v2", p.Source)

	p, err = s.LoadPartial(ctx, "greet", store.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "partial", p.Source)

	_, err = s.Load(ctx, "greet", store.LoadOptions{Version: store.Version("v1")})
	require.ErrorIs(t, err, store.ErrVersionMismatch)

	require.NoError(t, s.Delete(ctx, "greet", "short"))
	_, err = s.Load(ctx, "greet", store.LoadOptions{Variant: "short"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSchemasResolve(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSchema(ctx, "Item", "sku: string\nqty: integer\n"))
	names, err := s.ListSchemas(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Item"}, names)

	r := prompt.New(prompt.Options{SchemaResolver: store.SchemaResolver(s)})
	out, err := r.Render(ctx, "---\noutput:\n  schema:\n    items(array): Item\n---\nlist", prompt.DataArgument{}, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Config["output"].(map[string]any)["schema"])
}

func TestHistory(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	key := ConversationKey{Platform: "cli", ChannelID: "c1", UserID: "u1"}
	id, err := s.Conversation(ctx, key)
	require.NoError(t, err)
	again, err := s.Conversation(ctx, key)
	require.NoError(t, err)
	require.Equal(t, id, again)

	require.NoError(t, s.AppendMessages(ctx, id,
		message.Message{Role: message.RoleUser, Content: []message.Part{message.TextPart{Text: "one"}}},
		message.Message{Role: message.RoleModel, Content: []message.Part{
			message.TextPart{Text: "two"},
			message.MediaPart{URL: "https://example.com/x.png", ContentType: "image/png"},
		}},
		message.Message{Role: message.RoleUser, Content: []message.Part{message.TextPart{Text: "three"}}},
	))
	_, err = s.db.Exec(`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, 'assistant', 'legacy', '2024-01-01T00:00:00Z')`, id)
	require.NoError(t, err)

	msgs, err := s.History(ctx, id, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "two", msgs[0].Content[0].(message.TextPart).Text)
	require.IsType(t, message.MediaPart{}, msgs[0].Content[1])
	require.Equal(t, message.RoleModel, msgs[2].Role)
	require.Equal(t, "legacy", msgs[2].Text())

	r := prompt.New(prompt.Options{})
	out, err := r.Render(ctx, "{{role \"user\"}}next", prompt.DataArgument{Messages: msgs}, nil)
	require.NoError(t, err)
	require.Len(t, out.Messages, 4)
	require.Equal(t, "next", out.Messages[3].Text())
}
