// Package adapter converts rendered prompts into provider request types for
// OpenAI, Anthropic and Gemini.
package adapter

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
)

// ErrNoMessages is returned for a render that produced no messages.
var ErrNoMessages = errors.New("adapter: rendered prompt has no messages")

// params are the generation settings shared by every provider.
type params struct {
	Model            string
	Temperature      *float32
	TopP             *float32
	TopK             *int
	MaxOutputTokens  int
	StopSequences    []string
	Seed             *int
	PresencePenalty  *float32
	FrequencyPenalty *float32
}

// readParams reads generation settings from the merged generation
// parameters of the render.
func readParams(p *prompt.RenderedPrompt) params {
	out := params{Model: modelName(p.Model())}
	layer := p.Params()
	if v, ok := float32Of(layer["temperature"]); ok {
		out.Temperature = &v
	}
	if v, ok := float32Of(layer["topP"]); ok {
		out.TopP = &v
	}
	if v, ok := intOf(layer["topK"]); ok {
		out.TopK = &v
	}
	if v, ok := intOf(layer["maxOutputTokens"]); ok {
		out.MaxOutputTokens = v
	}
	if v := stringsOf(layer["stopSequences"]); v != nil {
		out.StopSequences = v
	}
	if v, ok := intOf(layer["seed"]); ok {
		out.Seed = &v
	}
	if v, ok := float32Of(layer["presencePenalty"]); ok {
		out.PresencePenalty = &v
	}
	if v, ok := float32Of(layer["frequencyPenalty"]); ok {
		out.FrequencyPenalty = &v
	}
	return out
}

// modelName drops the provider prefix of a model id: "openai/gpt-4o" -> "gpt-4o".
func modelName(id string) string {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func float64Of(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func float32Of(v any) (float32, bool) {
	f, ok := float64Of(v)
	return float32(f), ok
}

func intOf(v any) (int, bool) {
	f, ok := float64Of(v)
	return int(f), ok
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

// systemText joins the text of the leading system messages and returns the
// remaining messages. System messages after the first turn are kept in place.
func systemText(msgs []message.Message) (string, []message.Message) {
	var parts []string
	i := 0
	for ; i < len(msgs) && msgs[i].Role == message.RoleSystem; i++ {
		parts = append(parts, strings.TrimSpace(msgs[i].Text()))
	}
	return strings.Join(parts, "\n\n"), msgs[i:]
}

// inlineData decodes a base64 data: URL.
func inlineData(url string) (mime string, data []byte, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", nil, false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", nil, false
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mime, data, true
}

func mediaType(m message.MediaPart) string {
	if m.ContentType != "" {
		return m.ContentType
	}
	if mime, _, ok := inlineData(m.URL); ok {
		return mime
	}
	return ""
}

// isImage reports whether a media part can be sent as an image. An unknown
// content type is assumed to be an image.
func isImage(m message.MediaPart) bool {
	ct := mediaType(m)
	return ct == "" || strings.HasPrefix(ct, "image/")
}

func mediaFallback(m message.MediaPart) string {
	return fmt.Sprintf("[media: %s]", m.URL)
}
