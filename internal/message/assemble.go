package message

import (
	"strings"
)

const (
	// MetadataPurpose is the metadata key that tags spliced-in history.
	MetadataPurpose = "purpose"
	PurposeHistory  = "history"
)

// source accumulates one message while the marker sequence is folded.
type source struct {
	role     Role
	pending  string
	parts    []Part
	metadata map[string]any
}

func (s source) hasContent() bool {
	return strings.TrimSpace(s.pending) != "" || len(s.parts) > 0
}

// flush moves pending text into a text part. Blank text is dropped.
func (s source) flush() source {
	if strings.TrimSpace(s.pending) != "" {
		s.parts = append(s.parts, TextPart{Text: s.pending})
	}
	s.pending = ""
	return s
}

func (s source) toMessage() (Message, bool) {
	s = s.flush()
	if len(s.parts) == 0 {
		return Message{}, false
	}
	return Message{Role: s.role, Content: s.parts, Metadata: s.metadata}, true
}

// assembly is the fold state. The current source is always the last one.
type assembly struct {
	sources         []source
	explicitHistory bool
}

func newAssembly() assembly {
	return assembly{sources: []source{{role: RoleUser}}}
}

func (a assembly) current() source {
	return a.sources[len(a.sources)-1]
}

func (a assembly) withCurrent(s source) assembly {
	sources := make([]source, len(a.sources))
	copy(sources, a.sources)
	sources[len(sources)-1] = s
	a.sources = sources
	return a
}

func (a assembly) push(s source) assembly {
	sources := make([]source, 0, len(a.sources)+1)
	sources = append(sources, a.sources...)
	a.sources = append(sources, s)
	return a
}

// step applies one token to the fold state.
func step(a assembly, tok Token, history []Message) assembly {
	cur := a.current()
	// Blank pending text is kept here and dropped by flush.
	if tok.Text != "" {
		cur.pending += tok.Text
		a = a.withCurrent(cur)
	}

	switch m := tok.Marker.(type) {
	case RoleMarker:
		if cur.hasContent() {
			return a.push(source{role: m.Role})
		}
		cur.role = m.Role
		return a.withCurrent(cur)

	case HistoryMarker:
		a.explicitHistory = true
		if len(history) == 0 {
			if cur.hasContent() {
				return a.push(source{role: RoleModel})
			}
			return a
		}
		for _, h := range TagHistory(history) {
			a = a.push(source{role: h.Role, parts: h.Content, metadata: h.Metadata})
		}
		return a.push(source{role: RoleModel})

	case MediaMarker:
		cur = cur.flush()
		cur.parts = append(cur.parts, MediaPart{URL: m.URL, ContentType: m.ContentType})
		return a.withCurrent(cur)

	case SectionMarker:
		cur = cur.flush()
		cur.parts = append(cur.parts, TextPart{Text: tok.Raw})
		return a.withCurrent(cur)
	}
	return a
}

func (a assembly) messages() []Message {
	out := make([]Message, 0, len(a.sources))
	for _, s := range a.sources {
		if msg, ok := s.toMessage(); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Assemble splits rendered template output into role-tagged messages and merges
// in prior conversation turns.
func Assemble(rendered string, history []Message) []Message {
	a := newAssembly()
	for tok := range Tokens(rendered) {
		a = step(a, tok, history)
	}
	msgs := a.messages()
	if a.explicitHistory {
		return msgs
	}
	return InsertHistory(msgs, history)
}

// TagHistory returns copies of the messages with purpose=history metadata.
// The caller's metadata maps are not modified.
func TagHistory(history []Message) []Message {
	out := make([]Message, len(history))
	for i, m := range history {
		meta := make(map[string]any, len(m.Metadata)+1)
		for k, v := range m.Metadata {
			meta[k] = v
		}
		meta[MetadataPurpose] = PurposeHistory
		out[i] = Message{Role: m.Role, Content: m.Content, Metadata: meta}
	}
	return out
}

// HasHistory reports whether any message is tagged as history.
func HasHistory(msgs []Message) bool {
	for _, m := range msgs {
		if m.Metadata != nil && m.Metadata[MetadataPurpose] == PurposeHistory {
			return true
		}
	}
	return false
}

// InsertHistory places history before a trailing user message, or at the end.
func InsertHistory(msgs []Message, history []Message) []Message {
	if len(history) == 0 || HasHistory(msgs) {
		return msgs
	}
	history = TagHistory(history)
	if len(msgs) == 0 {
		return history
	}
	last := msgs[len(msgs)-1]
	out := make([]Message, 0, len(msgs)+len(history))
	if last.Role == RoleUser {
		out = append(out, msgs[:len(msgs)-1]...)
		out = append(out, history...)
		return append(out, last)
	}
	out = append(out, msgs...)
	return append(out, history...)
}
