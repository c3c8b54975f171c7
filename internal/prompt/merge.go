package prompt

import (
	"context"
	"fmt"
	"slices"

	"github.com/kayz/dotprompt/internal/frontmatter"
	"github.com/kayz/dotprompt/internal/picoschema"
)

// RenderContext builds the variables a template is rendered with. Later
// layers override earlier ones key by key: model defaults, the file's
// input.default, the file config, the options' input.default, the options,
// then the caller's input.
func RenderContext(modelDefaults, fileConfig, options map[string]any, data DataArgument) map[string]any {
	return mergeMaps(
		modelDefaults,
		inputDefaults(fileConfig),
		fileConfig,
		inputDefaults(options),
		options,
		data.Input,
	)
}

// ResultConfig builds the configuration returned with a rendered prompt:
// model defaults, then the file config, then the options.
func ResultConfig(modelDefaults, fileConfig, options map[string]any) map[string]any {
	return mergeMaps(modelDefaults, fileConfig, options)
}

// GenerationConfig merges the generation parameters of a render: model
// defaults, then the file, then the options. Within the file and the options
// the "config" map overrides top-level keys.
func GenerationConfig(modelDefaults, fileConfig, options map[string]any) map[string]any {
	return mergeMaps(
		modelDefaults,
		generationKeys(fileConfig),
		subMap(fileConfig, "config"),
		generationKeys(options),
		subMap(options, "config"),
	)
}

// ResolveModel picks the model id whose defaults apply to a render.
func ResolveModel(fileConfig, options map[string]any, defaultModel string) string {
	if m, ok := fileConfig["model"].(string); ok && m != "" {
		return m
	}
	if m, ok := options["model"].(string); ok && m != "" {
		return m
	}
	return defaultModel
}

// PrivateData returns the @-variables of a render. Every context entry is
// exposed under its own name, so context.state becomes @state.
func PrivateData(data DataArgument) map[string]any {
	if len(data.Context) == 0 {
		return nil
	}
	out := make(map[string]any, len(data.Context))
	for k, v := range data.Context {
		out[k] = v
	}
	return out
}

// CompileSchemas returns a copy of config whose input.schema and
// output.schema are compiled. Other keys are shared with config.
func CompileSchemas(ctx context.Context, c *picoschema.Compiler, config map[string]any) (map[string]any, error) {
	out := mergeMaps(config)
	for _, key := range []string{"input", "output"} {
		section, ok := config[key].(map[string]any)
		if !ok {
			continue
		}
		raw, ok := section["schema"]
		if !ok || raw == nil {
			continue
		}
		if _, done := raw.(picoschema.Node); done {
			continue
		}
		node, err := c.Compile(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", key, err)
		}
		compiled := mergeMaps(section)
		compiled["schema"] = node
		out[key] = compiled
	}
	return out, nil
}

func inputDefaults(cfg map[string]any) map[string]any {
	return subMap(subMap(cfg, "input"), "default")
}

// generationKeys returns the top-level entries of cfg that are not prompt
// metadata.
func generationKeys(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if slices.Contains(frontmatter.ReservedKeys, k) || k == frontmatter.KeyExt || k == frontmatter.KeyRaw {
			continue
		}
		out[k] = v
	}
	return out
}

func subMap(m map[string]any, key string) map[string]any {
	sub, _ := m[key].(map[string]any)
	return sub
}

// mergeMaps shallow-merges layers into a new map; later layers win.
func mergeMaps(layers ...map[string]any) map[string]any {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	out := make(map[string]any, n)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}
