// Package modelconfig loads per-model default configuration, keyed by model
// id, from a YAML file or an AWS SSM parameter holding a JSON document.
package modelconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"gopkg.in/yaml.v3"

	"github.com/kayz/dotprompt/internal/frontmatter"
	"github.com/kayz/dotprompt/internal/picoschema"
)

// Configs maps a model id to its default configuration.
type Configs map[string]map[string]any

// Source loads model defaults.
type Source interface {
	Load(ctx context.Context) (Configs, error)
}

// File reads a YAML document with a top-level "models" mapping:
//
//	models:
//	  googleai/gemini-2.0-flash:
//	    temperature: 0.2
type File struct {
	Path string
}

func (f File) Load(ctx context.Context) (Configs, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read model configs: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a "models" document. The mapping may also be given
// without the "models" wrapper.
func ParseYAML(data []byte) (Configs, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse model configs: %w", err)
	}
	v, err := picoschema.FromYAML(&node)
	if err != nil {
		return nil, fmt.Errorf("parse model configs: %w", err)
	}
	doc, _ := frontmatter.Plain(v).(map[string]any)
	if models, ok := doc["models"].(map[string]any); ok {
		doc = models
	}
	return fromMap(doc)
}

func fromMap(doc map[string]any) (Configs, error) {
	out := make(Configs, len(doc))
	for model, raw := range doc {
		if raw == nil {
			out[model] = map[string]any{}
			continue
		}
		cfg, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("model %q: expected a mapping, got %T", model, raw)
		}
		out[model] = cfg
	}
	return out, nil
}

// ssmAPI is the subset of *ssm.Client used by Parameter.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Parameter reads a JSON object of model configs from an SSM parameter.
type Parameter struct {
	api  ssmAPI
	name string
}

// NewParameter creates a Parameter source.
func NewParameter(api ssmAPI, name string) (*Parameter, error) {
	if api == nil {
		return nil, errors.New("modelconfig: api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("modelconfig: parameter name is required")
	}
	return &Parameter{api: api, name: name}, nil
}

func (p *Parameter) Load(ctx context.Context) (Configs, error) {
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &p.name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return nil, fmt.Errorf("modelconfig: get parameter %q: %w", p.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return nil, errors.New("modelconfig: parameter missing value")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &doc); err != nil {
		return nil, fmt.Errorf("modelconfig: decode parameter %q: %w", p.name, err)
	}
	if models, ok := doc["models"].(map[string]any); ok {
		doc = models
	}
	return fromMap(doc)
}

// Static serves fixed configs, mainly for tests and embedding.
type Static Configs

func (s Static) Load(context.Context) (Configs, error) {
	return Configs(s), nil
}
