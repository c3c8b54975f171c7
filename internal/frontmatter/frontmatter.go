// Package frontmatter splits a .prompt source into its YAML metadata block
// and template body.
package frontmatter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/picoschema"
)

// ErrInvalidFrontmatter is returned when the metadata block is not a YAML mapping.
var ErrInvalidFrontmatter = errors.New("invalid front matter")

var frontmatterRe = regexp.MustCompile(`^\s*---[ \t]*\r?\n(?:([\s\S]*?)\r?\n)?---[ \t]*(?:\r?\n([\s\S]*))?$`)

// ReservedKeys are kept at the top level of Document.Config. Every other key
// is folded into Config["ext"].
var ReservedKeys = []string{
	"name", "description", "version", "variant", "model",
	"tools", "toolDefs", "input", "output", "config", "meta",
}

const (
	KeyExt = "ext"
	KeyRaw = "raw"
)

// Document is a parsed prompt source.
type Document struct {
	Template string
	Config   map[string]any
}

// Name returns the "name" key, or "".
func (d Document) Name() string { return d.str("name") }

// Variant returns the "variant" key, or "".
func (d Document) Variant() string { return d.str("variant") }

// Model returns the "model" key, or "".
func (d Document) Model() string { return d.str("model") }

// Description returns the "description" key, or "".
func (d Document) Description() string { return d.str("description") }

func (d Document) str(key string) string {
	s, _ := d.Config[key].(string)
	return s
}

// Parse splits source into metadata and template. A source without a
// metadata block yields an empty config.
func Parse(source string) (Document, error) {
	m := frontmatterRe.FindStringSubmatch(source)
	if m == nil {
		return Document{Template: trimSpaces(source), Config: map[string]any{}}, nil
	}

	cfg, err := decode(m[1])
	if err != nil {
		return Document{}, err
	}
	return Document{Template: trimSpaces(m[2]), Config: cfg}, nil
}

func decode(block string) (map[string]any, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(block), &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
	}
	if node.Kind == 0 {
		return map[string]any{}, nil
	}
	v, err := picoschema.FromYAML(&node)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	fields, ok := v.(picoschema.Fields)
	if !ok {
		return nil, fmt.Errorf("%w: expected a mapping, got %T", ErrInvalidFrontmatter, v)
	}

	cfg := make(map[string]any, len(fields)+2)
	ext := map[string]any{}
	for _, kv := range fields {
		switch {
		case isReserved(kv.Key):
			cfg[kv.Key] = reserved(kv.Key, kv.Value)
		default:
			foldExt(ext, kv.Key, Plain(kv.Value))
		}
	}
	if len(ext) > 0 {
		cfg[KeyExt] = ext
	}
	cfg[KeyRaw] = Plain(fields)
	return cfg, nil
}

// reserved converts a reserved value to plain maps, except that schema
// subtrees under input and output keep their declaration order.
func reserved(key string, v any) any {
	if key != "input" && key != "output" {
		return Plain(v)
	}
	f, ok := v.(picoschema.Fields)
	if !ok {
		return Plain(v)
	}
	out := make(map[string]any, len(f))
	for _, kv := range f {
		if kv.Key == "schema" {
			out[kv.Key] = kv.Value
			continue
		}
		out[kv.Key] = Plain(kv.Value)
	}
	return out
}

// foldExt stores key under ext, grouping dotted keys on their last dot:
// "a.b.c" becomes ext["a.b"]["c"].
func foldExt(ext map[string]any, key string, v any) {
	i := strings.LastIndex(key, ".")
	if i < 0 {
		if existing, ok := ext[key].(map[string]any); ok {
			if vm, ok := v.(map[string]any); ok {
				for k, val := range vm {
					if _, taken := existing[k]; !taken {
						existing[k] = val
					}
				}
				return
			}
			logger.Warn("frontmatter: key %q conflicts with namespaced keys, ignoring", key)
			return
		}
		ext[key] = v
		return
	}

	ns, field := key[:i], key[i+1:]
	group, ok := ext[ns].(map[string]any)
	if !ok {
		if prev, exists := ext[ns]; exists {
			logger.Warn("frontmatter: namespace %q replaces plain value %v", ns, prev)
		}
		group = map[string]any{}
		ext[ns] = group
	}
	group[field] = v
}

// Plain converts ordered Fields into map[string]any at every depth.
func Plain(v any) any {
	switch t := v.(type) {
	case picoschema.Fields:
		out := make(map[string]any, len(t))
		for _, kv := range t {
			out[kv.Key] = Plain(kv.Value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Plain(e)
		}
		return out
	default:
		return v
	}
}

func isReserved(key string) bool {
	for _, k := range ReservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// trimSpaces trims spaces and tabs but keeps surrounding newlines.
func trimSpaces(s string) string {
	return strings.Trim(s, " \t")
}
