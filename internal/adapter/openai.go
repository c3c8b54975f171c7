package adapter

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
)

// rawSchema marshals a schema that is not a compiled node.
type rawSchema struct{ v any }

func (s rawSchema) MarshalJSON() ([]byte, error) { return json.Marshal(s.v) }

func schemaMarshaler(v any) json.Marshaler {
	if m, ok := v.(json.Marshaler); ok {
		return m
	}
	return rawSchema{v}
}

// OpenAI builds a chat completion request from a rendered prompt.
func OpenAI(p *prompt.RenderedPrompt) (openai.ChatCompletionRequest, error) {
	if len(p.Messages) == 0 {
		return openai.ChatCompletionRequest{}, ErrNoMessages
	}
	par := readParams(p)
	req := openai.ChatCompletionRequest{
		Model:          par.Model,
		MaxTokens:      par.MaxOutputTokens,
		Stop:           par.StopSequences,
		Seed:           par.Seed,
		Messages:       make([]openai.ChatCompletionMessage, 0, len(p.Messages)),
		ResponseFormat: openAIResponseFormat(p),
	}
	if par.Temperature != nil {
		req.Temperature = *par.Temperature
	}
	if par.TopP != nil {
		req.TopP = *par.TopP
	}
	if par.PresencePenalty != nil {
		req.PresencePenalty = *par.PresencePenalty
	}
	if par.FrequencyPenalty != nil {
		req.FrequencyPenalty = *par.FrequencyPenalty
	}

	for _, m := range p.Messages {
		req.Messages = append(req.Messages, openAIMessage(m))
	}

	for _, t := range p.Tools() {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMarshaler(params),
			},
		})
	}
	return req, nil
}

func openAIRole(r message.Role) string {
	switch r {
	case message.RoleSystem:
		return openai.ChatMessageRoleSystem
	case message.RoleModel:
		return openai.ChatMessageRoleAssistant
	case message.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func openAIMessage(m message.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: openAIRole(m.Role)}
	if id, ok := m.Metadata["toolCallId"].(string); ok {
		out.ToolCallID = id
	}

	hasMedia := false
	for _, part := range m.Content {
		if _, ok := part.(message.MediaPart); ok {
			hasMedia = true
			break
		}
	}
	if !hasMedia {
		out.Content = m.Text()
		return out
	}

	for _, part := range m.Content {
		switch v := part.(type) {
		case message.TextPart:
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: v.Text,
			})
		case message.MediaPart:
			if !isImage(v) {
				logger.Warn("openai: media type %q is not an image, sending as text", mediaType(v))
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: mediaFallback(v),
				})
				continue
			}
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: v.URL, Detail: openai.ImageURLDetailAuto},
			})
		}
	}
	return out
}

func openAIResponseFormat(p *prompt.RenderedPrompt) *openai.ChatCompletionResponseFormat {
	format, schema := p.Output()
	if schema != nil {
		name, _ := p.Config["name"].(string)
		if name == "" {
			name = "output"
		}
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: schemaMarshaler(schema),
			},
		}
	}
	switch format {
	case "json":
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	case "", "text":
		return nil
	default:
		logger.Debug("openai: output format %q has no response format", format)
		return nil
	}
}
