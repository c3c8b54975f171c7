package adapter

import (
	"encoding/base64"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
)

// DefaultAnthropicMaxTokens is used when the prompt sets no maxOutputTokens;
// the Messages API requires a limit.
const DefaultAnthropicMaxTokens = 1024

// Anthropic builds a Messages API request. Leading system messages become the
// system prompt; later ones are sent as user turns.
func Anthropic(p *prompt.RenderedPrompt) (anthropic.MessagesRequest, error) {
	system, rest := systemText(p.Messages)
	if len(rest) == 0 {
		return anthropic.MessagesRequest{}, ErrNoMessages
	}
	par := readParams(p)
	req := anthropic.MessagesRequest{
		Model:         anthropic.Model(par.Model),
		System:        system,
		MaxTokens:     par.MaxOutputTokens,
		StopSequences: par.StopSequences,
		Temperature:   par.Temperature,
		TopP:          par.TopP,
		TopK:          par.TopK,
		Messages:      make([]anthropic.Message, 0, len(rest)),
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultAnthropicMaxTokens
	}

	for _, m := range rest {
		req.Messages = append(req.Messages, anthropicMessage(m))
	}
	for _, t := range p.Tools() {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMarshaler(schema),
		})
	}
	if _, schema := p.Output(); schema != nil {
		logger.Debug("anthropic: output schema is not sent, the Messages API has no response format")
	}
	return req, nil
}

func anthropicMessage(m message.Message) anthropic.Message {
	role := anthropic.RoleUser
	if m.Role == message.RoleModel {
		role = anthropic.RoleAssistant
	}
	out := anthropic.Message{Role: role}
	for _, part := range m.Content {
		switch v := part.(type) {
		case message.TextPart:
			out.Content = append(out.Content, anthropic.NewTextMessageContent(v.Text))
		case message.MediaPart:
			mime, data, ok := inlineData(v.URL)
			if !ok || !isImage(v) {
				logger.Warn("anthropic: media %q is not an inline image, sending as text", v.URL)
				out.Content = append(out.Content, anthropic.NewTextMessageContent(mediaFallback(v)))
				continue
			}
			if v.ContentType != "" {
				mime = v.ContentType
			}
			out.Content = append(out.Content, anthropic.NewImageMessageContent(anthropic.MessageContentSource{
				Type:      anthropic.MessagesContentSourceTypeBase64,
				MediaType: mime,
				Data:      base64.StdEncoding.EncodeToString(data),
			}))
		}
	}
	return out
}
