package adapter

import (
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/picoschema"
	"github.com/kayz/dotprompt/internal/prompt"
)

// Gemini builds the contents and config of a GenerateContent call. Leading
// system messages become the system instruction.
func Gemini(p *prompt.RenderedPrompt) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	system, rest := systemText(p.Messages)
	if len(rest) == 0 {
		return nil, nil, ErrNoMessages
	}
	par := readParams(p)
	cfg := &genai.GenerateContentConfig{
		Temperature:      par.Temperature,
		TopP:             par.TopP,
		StopSequences:    par.StopSequences,
		MaxOutputTokens:  int32(par.MaxOutputTokens),
		PresencePenalty:  par.PresencePenalty,
		FrequencyPenalty: par.FrequencyPenalty,
	}
	if par.TopK != nil {
		k := float32(*par.TopK)
		cfg.TopK = &k
	}
	if par.Seed != nil {
		s := int32(*par.Seed)
		cfg.Seed = &s
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	format, schema := p.Output()
	if schema != nil {
		if s := geminiSchema(schema); s != nil {
			cfg.ResponseMIMEType = "application/json"
			cfg.ResponseSchema = s
		}
	} else if format == "json" {
		cfg.ResponseMIMEType = "application/json"
	}

	var decls []*genai.FunctionDeclaration
	for _, t := range p.Tools() {
		d := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if t.InputSchema != nil {
			d.Parameters = geminiSchema(t.InputSchema)
		}
		decls = append(decls, d)
	}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		if c := geminiContent(m); len(c.Parts) > 0 {
			contents = append(contents, c)
		}
	}
	return contents, cfg, nil
}

func geminiContent(m message.Message) *genai.Content {
	role := "user"
	if m.Role == message.RoleModel {
		role = "model"
	}
	c := &genai.Content{Role: role}
	for _, part := range m.Content {
		switch v := part.(type) {
		case message.TextPart:
			c.Parts = append(c.Parts, &genai.Part{Text: v.Text})
		case message.MediaPart:
			if mime, data, ok := inlineData(v.URL); ok {
				if v.ContentType != "" {
					mime = v.ContentType
				}
				c.Parts = append(c.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
				continue
			}
			c.Parts = append(c.Parts, &genai.Part{FileData: &genai.FileData{FileURI: v.URL, MIMEType: v.ContentType}})
		}
	}
	return c
}

// geminiSchema converts a compiled schema, or a JSON Schema map, into the
// OpenAPI subset Gemini accepts. Unsupported shapes yield nil.
func geminiSchema(v any) *genai.Schema {
	switch n := v.(type) {
	case picoschema.Scalar:
		s := &genai.Schema{Type: geminiType(n.Type), Description: n.Description}
		if n.Nullable {
			s.Nullable = genai.Ptr(true)
		}
		return s
	case picoschema.Object:
		s := &genai.Schema{
			Type:        genai.TypeObject,
			Description: n.Description,
			Required:    n.Required,
			Properties:  make(map[string]*genai.Schema, len(n.Properties)),
		}
		for _, p := range n.Properties {
			s.Properties[p.Name] = geminiSchema(p.Schema)
			s.PropertyOrdering = append(s.PropertyOrdering, p.Name)
		}
		if n.Nullable {
			s.Nullable = genai.Ptr(true)
		}
		return s
	case picoschema.Array:
		s := &genai.Schema{Type: genai.TypeArray, Description: n.Description, Items: geminiSchema(n.Items)}
		if n.Nullable {
			s.Nullable = genai.Ptr(true)
		}
		return s
	case picoschema.Enum:
		s := &genai.Schema{Type: genai.TypeString, Description: n.Description}
		for _, e := range n.Values {
			if e == nil {
				s.Nullable = genai.Ptr(true)
				continue
			}
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
		return s
	case picoschema.Passthrough:
		return geminiSchema(n.Value)
	case map[string]any:
		return geminiSchemaFromMap(n)
	}
	logger.Warn("gemini: schema of type %T is not supported, skipping", v)
	return nil
}

func geminiSchemaFromMap(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	s.Description, _ = m["description"].(string)
	switch t := m["type"].(type) {
	case string:
		s.Type = geminiType(t)
	case []any:
		for _, e := range t {
			name, _ := e.(string)
			if name == "null" {
				s.Nullable = genai.Ptr(true)
			} else if name != "" {
				s.Type = geminiType(name)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		if s.Type == "" {
			s.Type = genai.TypeObject
		}
		s.Properties = make(map[string]*genai.Schema, len(props))
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if sub, ok := props[name].(map[string]any); ok {
				s.Properties[name] = geminiSchemaFromMap(sub)
			}
		}
	}
	s.Required = stringsOf(m["required"])
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = geminiSchemaFromMap(items)
	}
	for _, e := range anyList(m["enum"]) {
		if e == nil {
			s.Nullable = genai.Ptr(true)
		} else if str, ok := e.(string); ok {
			s.Enum = append(s.Enum, str)
		}
	}
	if len(s.Enum) > 0 && s.Type == "" {
		s.Type = genai.TypeString
	}
	return s
}

func anyList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}

func geminiType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	}
	// "any" and unknown names leave the type open.
	return ""
}
