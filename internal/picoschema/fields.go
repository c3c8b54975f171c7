package picoschema

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Field is a single key of a shorthand object.
type Field struct {
	Key   string
	Value any
}

// Fields is an order-preserving mapping. YAML schema documents decode into
// Fields so property order follows the source.
type Fields []Field

// Get returns the value stored under key.
func (f Fields) Get(key string) (any, bool) {
	for _, kv := range f {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// With returns a copy of f with key set, replacing an existing entry in place.
func (f Fields) With(key string, value any) Fields {
	out := make(Fields, 0, len(f)+1)
	found := false
	for _, kv := range f {
		if kv.Key == key {
			kv.Value = value
			found = true
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, Field{Key: key, Value: value})
	}
	return out
}

func (f Fields) MarshalJSON() ([]byte, error) {
	var o jsonObject
	for _, kv := range f {
		o.add(kv.Key, kv.Value)
	}
	return o.bytes()
}

// UnmarshalYAML decodes a mapping node keeping key order at every depth.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	v, err := FromYAML(node)
	if err != nil {
		return err
	}
	fields, ok := v.(Fields)
	if !ok {
		return fmt.Errorf("picoschema: expected a mapping, got %s", describe(v))
	}
	*f = fields
	return nil
}

// FromYAML converts a YAML node to Go values. Mappings become Fields,
// sequences []any, scalars their natural types.
func FromYAML(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return FromYAML(node.Content[0])
	case yaml.AliasNode:
		return FromYAML(node.Alias)
	case yaml.MappingNode:
		out := make(Fields, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key string
			if err := node.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("picoschema: line %d: mapping key: %w", node.Content[i].Line, err)
			}
			val, err := FromYAML(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			out = append(out, Field{Key: key, Value: val})
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, c := range node.Content {
			val, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("picoschema: line %d: %w", node.Line, err)
		}
		return v, nil
	}
}

// asFields normalizes the mapping types a schema may arrive as.
func asFields(v any) (Fields, bool) {
	switch m := v.(type) {
	case Fields:
		return m, true
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Fields, 0, len(m))
		for _, k := range keys {
			out = append(out, Field{Key: k, Value: m[k]})
		}
		return out, true
	default:
		return nil, false
	}
}

func describe(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T(%v)", v, v)
	}
	return fmt.Sprintf("%T %s", v, b)
}
