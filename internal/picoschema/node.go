package picoschema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node is a compiled schema. The set of implementations is closed; every node
// marshals to JSON Schema.
type Node interface {
	json.Marshaler
	isNode()
}

// Scalar is a primitive type. Type "any" places no constraint on the value.
type Scalar struct {
	Type        string
	Nullable    bool
	Description string
}

// Property is one named entry of an object, in declaration order.
type Property struct {
	Name   string
	Schema Node
}

// Object is a structural object. A nil Additional forbids extra properties.
type Object struct {
	Properties  []Property
	Required    []string
	Additional  Node
	Nullable    bool
	Description string
}

// Array is a homogeneous list.
type Array struct {
	Items       Node
	Nullable    bool
	Description string
}

// Enum is a fixed set of literal values. A nil entry allows null.
type Enum struct {
	Values      []any
	Description string
}

// Passthrough is an already-canonical schema fragment kept verbatim.
type Passthrough struct {
	Value any
}

func (Scalar) isNode()      {}
func (Object) isNode()      {}
func (Array) isNode()       {}
func (Enum) isNode()        {}
func (Passthrough) isNode() {}

// Property returns the schema of the named property.
func (o Object) Property(name string) (Node, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

// jsonObject writes keys in the order they are added.
type jsonObject struct {
	buf   bytes.Buffer
	count int
	err   error
}

func (o *jsonObject) add(key string, value any) {
	if o.err != nil {
		return
	}
	if o.count == 0 {
		o.buf.WriteByte('{')
	} else {
		o.buf.WriteByte(',')
	}
	o.count++
	k, _ := json.Marshal(key)
	o.buf.Write(k)
	o.buf.WriteByte(':')
	v, err := json.Marshal(value)
	if err != nil {
		o.err = fmt.Errorf("picoschema: marshal %q: %w", key, err)
		return
	}
	o.buf.Write(v)
}

func (o *jsonObject) bytes() ([]byte, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.count == 0 {
		return []byte("{}"), nil
	}
	o.buf.WriteByte('}')
	return o.buf.Bytes(), nil
}

func typeValue(t string, nullable bool) any {
	if nullable {
		return []string{t, "null"}
	}
	return t
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	var o jsonObject
	if s.Type != "" && s.Type != "any" {
		o.add("type", typeValue(s.Type, s.Nullable))
	}
	if s.Description != "" {
		o.add("description", s.Description)
	}
	return o.bytes()
}

type orderedProperties []Property

func (p orderedProperties) MarshalJSON() ([]byte, error) {
	var o jsonObject
	for _, prop := range p {
		o.add(prop.Name, prop.Schema)
	}
	return o.bytes()
}

func (s Object) MarshalJSON() ([]byte, error) {
	var o jsonObject
	o.add("type", typeValue("object", s.Nullable))
	o.add("properties", orderedProperties(s.Properties))
	if len(s.Required) > 0 {
		o.add("required", s.Required)
	}
	if s.Additional == nil {
		o.add("additionalProperties", false)
	} else {
		o.add("additionalProperties", s.Additional)
	}
	if s.Description != "" {
		o.add("description", s.Description)
	}
	return o.bytes()
}

func (s Array) MarshalJSON() ([]byte, error) {
	var o jsonObject
	o.add("type", typeValue("array", s.Nullable))
	o.add("items", s.Items)
	if s.Description != "" {
		o.add("description", s.Description)
	}
	return o.bytes()
}

func (s Enum) MarshalJSON() ([]byte, error) {
	var o jsonObject
	values := s.Values
	if values == nil {
		values = []any{}
	}
	o.add("enum", values)
	if s.Description != "" {
		o.add("description", s.Description)
	}
	return o.bytes()
}

func (s Passthrough) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

// ToMap converts a node into generic JSON values, preserving nothing about key
// order. Useful for consumers that want map[string]any.
func ToMap(n Node) (map[string]any, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("picoschema: schema is not an object: %w", err)
	}
	return out, nil
}
