package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type memSchemas map[string]string

func (m memSchemas) ListSchemas(context.Context) ([]string, error) {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out, nil
}

func (m memSchemas) LoadSchema(_ context.Context, name string) (string, error) {
	s, ok := m[name]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

type memPartials map[string]string

func (m memPartials) List(context.Context) ([]PromptRef, error)         { return nil, nil }
func (m memPartials) ListPartials(context.Context) ([]PromptRef, error) { return nil, nil }

func (m memPartials) Load(context.Context, string, LoadOptions) (PromptData, error) {
	return PromptData{}, ErrNotFound
}

func (m memPartials) LoadPartial(_ context.Context, name string, _ LoadOptions) (PromptData, error) {
	s, ok := m[name]
	if !ok {
		return PromptData{}, ErrNotFound
	}
	return PromptData{PromptRef: PromptRef{Name: name, Version: Version(s)}, Source: s}, nil
}

func TestSchemaResolverNested(t *testing.T) {
	r := SchemaResolver(memSchemas{
		"Person":  "name: string\naddress?: Address\n",
		"Address": "city: string\nzip: string, postal code\n",
		"Tag":     "string, a label",
	})

	n, ok, err := r.ResolveSchema(context.Background(), "Person")
	require.NoError(t, err)
	require.True(t, ok)
	b, err := json.Marshal(n)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type":"object",
		"properties":{
			"name":{"type":"string"},
			"address":{"type":["object","null"],"properties":{"city":{"type":"string"},"zip":{"type":"string","description":"postal code"}},"required":["city","zip"],"additionalProperties":false}
		},
		"required":["name"],
		"additionalProperties":false
	}`, string(b))

	n, ok, err = r.ResolveSchema(context.Background(), "Tag")
	require.NoError(t, err)
	require.True(t, ok)
	b, _ = json.Marshal(n)
	require.JSONEq(t, `{"type":"string","description":"a label"}`, string(b))

	_, ok, err = r.ResolveSchema(context.Background(), "Nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSchemaResolverCycle(t *testing.T) {
	r := SchemaResolver(memSchemas{
		"A": "b: B\n",
		"B": "a: A\n",
	})
	_, _, err := r.ResolveSchema(context.Background(), "A")
	require.ErrorIs(t, err, ErrSchemaCycle)
}

func TestPartialResolver(t *testing.T) {
	r := PartialResolver(memPartials{"header": "# {{title}}"})

	src, ok, err := r.ResolvePartial(context.Background(), "header")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "# {{title}}", src)

	_, ok, err = r.ResolvePartial(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckVersion(t *testing.T) {
	v := Version("hello")
	require.Len(t, v, 40)
	require.NoError(t, CheckVersion("p", LoadOptions{}, v))
	require.NoError(t, CheckVersion("p", LoadOptions{Version: v}, v))
	require.ErrorIs(t, CheckVersion("p", LoadOptions{Version: "abc"}, v), ErrVersionMismatch)
}
