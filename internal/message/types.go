package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// Part is one piece of message content. The set of implementations is closed.
type Part interface {
	isPart()
}

// TextPart is a plain text segment.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// MediaPart references media by URL.
type MediaPart struct {
	URL         string
	ContentType string
}

func (MediaPart) isPart() {}

// Message is a role-tagged sequence of parts.
type Message struct {
	Role     Role
	Content  []Part
	Metadata map[string]any
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

type mediaJSON struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
}

type partJSON struct {
	Text  *string    `json:"text,omitempty"`
	Media *mediaJSON `json:"media,omitempty"`
}

type messageJSON struct {
	Role     Role              `json:"role"`
	Content  []json.RawMessage `json:"content"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// MarshalPart encodes a part as {"text": ...} or {"media": {...}}.
func MarshalPart(p Part) ([]byte, error) {
	switch v := p.(type) {
	case TextPart:
		return json.Marshal(partJSON{Text: &v.Text})
	case MediaPart:
		return json.Marshal(partJSON{Media: &mediaJSON{URL: v.URL, ContentType: v.ContentType}})
	default:
		return nil, fmt.Errorf("message: unknown part type %T", p)
	}
}

// UnmarshalPart decodes a part produced by MarshalPart.
func UnmarshalPart(data []byte) (Part, error) {
	var raw partJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("message: decode part: %w", err)
	}
	switch {
	case raw.Media != nil:
		return MediaPart{URL: raw.Media.URL, ContentType: raw.Media.ContentType}, nil
	case raw.Text != nil:
		return TextPart{Text: *raw.Text}, nil
	default:
		return nil, fmt.Errorf("message: part has neither text nor media: %s", data)
	}
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		Role:     m.Role,
		Content:  make([]json.RawMessage, 0, len(m.Content)),
		Metadata: m.Metadata,
	}
	for _, p := range m.Content {
		b, err := MarshalPart(p)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, b)
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts := make([]Part, 0, len(raw.Content))
	for _, c := range raw.Content {
		p, err := UnmarshalPart(c)
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}
	*m = Message{Role: raw.Role, Content: parts, Metadata: raw.Metadata}
	return nil
}
