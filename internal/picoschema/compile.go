package picoschema

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kayz/dotprompt/internal/logger"
)

// WildcardKey declares the schema of properties not listed explicitly.
const WildcardKey = "(*)"

var primitiveTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
	"null":    true,
	"any":     true,
}

// Keys that mark a mapping as JSON Schema rather than shorthand.
var canonicalKeys = []string{"anyOf", "oneOf", "allOf", "not", "$ref"}

// Options configures a Compiler.
type Options struct {
	Resolver Resolver
	// Lenient turns unresolved references into unconstrained schemas instead
	// of failing.
	Lenient bool
}

// Compiler expands shorthand schemas into Node trees.
type Compiler struct {
	resolver Resolver
	lenient  bool
}

// NewCompiler creates a Compiler.
func NewCompiler(opts Options) *Compiler {
	return &Compiler{resolver: opts.Resolver, lenient: opts.Lenient}
}

// Compile expands schema with a one-off Compiler.
func Compile(ctx context.Context, schema any, opts Options) (Node, error) {
	return NewCompiler(opts).Compile(ctx, schema)
}

// Compile expands a shorthand schema: a type string, a named reference, a
// shorthand object, or an already-canonical schema. A nil schema compiles
// to nil.
func (c *Compiler) Compile(ctx context.Context, schema any) (Node, error) {
	if schema == nil {
		return nil, nil
	}
	return c.compileValue(ctx, schema, nil)
}

func (c *Compiler) compileValue(ctx context.Context, v any, path []string) (Node, error) {
	if s, ok := v.(string); ok {
		return c.compileString(ctx, s, path)
	}
	if f, ok := asFields(v); ok {
		if p, ok := canonical(v, f); ok {
			return p, nil
		}
		return c.compileObject(ctx, f, path)
	}
	return nil, newError(path, fmt.Errorf("%w: expected a string or mapping, got %s", ErrInvalidShape, describe(v)))
}

func (c *Compiler) compileString(ctx context.Context, s string, path []string) (Node, error) {
	head, desc := splitDescription(s)
	if primitiveTypes[head] {
		return Scalar{Type: head, Description: desc}, nil
	}
	return c.resolve(ctx, head, desc, path)
}

func (c *Compiler) resolve(ctx context.Context, name, desc string, path []string) (Node, error) {
	var (
		n     Node
		found bool
		err   error
	)
	if c.resolver != nil {
		n, found, err = c.resolver.ResolveSchema(ctx, name)
		if err != nil {
			return nil, newError(path, fmt.Errorf("resolve schema %q: %w", name, err))
		}
	}
	if !found || n == nil {
		if c.lenient {
			logger.Warn("picoschema: unresolved schema reference %q, using an unconstrained schema", name)
			return Scalar{Type: "any", Description: desc}, nil
		}
		return nil, newError(path, fmt.Errorf("%w: %q", ErrUnresolvedReference, name))
	}
	return withDescription(n, desc), nil
}

// propertyKey is a parsed shorthand key such as "tags?(array, the tags)".
type propertyKey struct {
	name     string
	optional bool
	tag      string
	tagDesc  string
	wildcard bool
}

func parseKey(raw string) propertyKey {
	if raw == WildcardKey {
		return propertyKey{wildcard: true}
	}
	name := raw
	var k propertyKey
	if i := strings.Index(raw, "("); i >= 0 && strings.HasSuffix(raw, ")") {
		name = raw[:i]
		k.tag, k.tagDesc = splitDescription(raw[i+1 : len(raw)-1])
	}
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, "?") {
		k.optional = true
		name = strings.TrimSuffix(name, "?")
	}
	k.name = name
	return k
}

func (c *Compiler) compileObject(ctx context.Context, f Fields, path []string) (Object, error) {
	keys := make([]propertyKey, len(f))
	nodes := make([]Node, len(f))

	g, gctx := errgroup.WithContext(ctx)
	for i, kv := range f {
		keys[i] = parseKey(kv.Key)
		childPath := append(append([]string(nil), path...), kv.Key)
		g.Go(func() error {
			n, err := c.compileProperty(gctx, keys[i], kv.Value, childPath)
			nodes[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Object{}, err
	}

	obj := Object{Properties: []Property{}}
	for i, k := range keys {
		if k.wildcard {
			obj.Additional = nodes[i]
			continue
		}
		obj.Properties = append(obj.Properties, Property{Name: k.name, Schema: nodes[i]})
		if !k.optional {
			obj.Required = append(obj.Required, k.name)
		}
	}
	return obj, nil
}

func (c *Compiler) compileProperty(ctx context.Context, k propertyKey, v any, path []string) (Node, error) {
	if k.wildcard {
		return c.compileValue(ctx, v, path)
	}

	switch k.tag {
	case "":
		n, err := c.compileValue(ctx, v, path)
		if err != nil {
			return nil, err
		}
		if k.optional {
			n = nullable(n)
		}
		return n, nil

	case "array":
		items, err := c.compileValue(ctx, v, path)
		if err != nil {
			return nil, err
		}
		return Array{Items: items, Nullable: k.optional, Description: k.tagDesc}, nil

	case "object":
		f, ok := asFields(v)
		if !ok {
			return nil, newError(path, fmt.Errorf("%w: (object) expects a mapping, got %s", ErrInvalidShape, describe(v)))
		}
		obj, err := c.compileObject(ctx, f, path)
		if err != nil {
			return nil, err
		}
		obj.Nullable = k.optional
		obj.Description = k.tagDesc
		return obj, nil

	case "enum":
		values, ok := v.([]any)
		if !ok {
			return nil, newError(path, fmt.Errorf("%w: (enum) expects a list, got %s", ErrInvalidShape, describe(v)))
		}
		e := Enum{Values: append([]any(nil), values...), Description: k.tagDesc}
		if k.optional {
			e = nullable(e).(Enum)
		}
		return e, nil

	default:
		return nil, newError(path, fmt.Errorf("%w: %q (expected array, enum or object)", ErrUnsupportedTag, k.tag))
	}
}

// canonical reports whether a mapping is already JSON Schema and returns it
// as a passthrough node.
func canonical(original any, f Fields) (Node, bool) {
	if t, ok := f.Get("type"); ok {
		switch tv := t.(type) {
		case string:
			if primitiveTypes[tv] {
				return Passthrough{Value: original}, true
			}
		case []any:
			return Passthrough{Value: original}, true
		}
	}
	if props, ok := f.Get("properties"); ok {
		if _, isMap := asFields(props); isMap {
			return Passthrough{Value: setKey(original, "type", "object")}, true
		}
	}
	for _, k := range canonicalKeys {
		if _, ok := f.Get(k); ok {
			return Passthrough{Value: original}, true
		}
	}
	return nil, false
}

// setKey returns a copy of a mapping value with key set.
func setKey(v any, key string, value any) any {
	switch m := v.(type) {
	case Fields:
		return m.With(key, value)
	case map[string]any:
		out := make(map[string]any, len(m)+1)
		for k, val := range m {
			out[k] = val
		}
		out[key] = value
		return out
	default:
		return v
	}
}

func hasKey(v any, key string) bool {
	f, ok := asFields(v)
	if !ok {
		return false
	}
	_, found := f.Get(key)
	return found
}

func withDescription(n Node, desc string) Node {
	if desc == "" {
		return n
	}
	switch v := n.(type) {
	case Scalar:
		if v.Description == "" {
			v.Description = desc
		}
		return v
	case Object:
		if v.Description == "" {
			v.Description = desc
		}
		return v
	case Array:
		if v.Description == "" {
			v.Description = desc
		}
		return v
	case Enum:
		if v.Description == "" {
			v.Description = desc
		}
		return v
	case Passthrough:
		if !hasKey(v.Value, "description") {
			v.Value = setKey(v.Value, "description", desc)
		}
		return v
	}
	return n
}

// nullable widens a node so that null is also accepted.
func nullable(n Node) Node {
	switch v := n.(type) {
	case Scalar:
		if v.Type != "any" && v.Type != "null" {
			v.Nullable = true
		}
		return v
	case Object:
		v.Nullable = true
		return v
	case Array:
		v.Nullable = true
		return v
	case Enum:
		for _, val := range v.Values {
			if val == nil {
				return v
			}
		}
		v.Values = append(append([]any(nil), v.Values...), nil)
		return v
	case Passthrough:
		f, ok := asFields(v.Value)
		if !ok {
			return v
		}
		if t, ok := f.Get("type"); ok {
			if ts, ok := t.(string); ok && ts != "null" {
				v.Value = setKey(v.Value, "type", []any{ts, "null"})
			}
		}
		return v
	}
	return n
}

// splitDescription splits "type, description" on the first comma.
func splitDescription(s string) (string, string) {
	head, desc, found := strings.Cut(s, ",")
	if !found {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(head), strings.TrimSpace(desc)
}
