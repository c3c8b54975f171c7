// Package store defines where prompts, partials and named schemas live.
// Backends are in the dir, sqlite and dynamo subpackages.
package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/kayz/dotprompt/internal/picoschema"
	"github.com/kayz/dotprompt/internal/prompt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrSchemaCycle     = errors.New("schema reference cycle")
)

// PromptRef identifies a stored prompt or partial.
type PromptRef struct {
	Name    string `json:"name"`
	Variant string `json:"variant,omitempty"`
	Version string `json:"version,omitempty"`
}

// PromptData is a stored prompt or partial with its source.
type PromptData struct {
	PromptRef
	Source string `json:"source"`
}

// LoadOptions selects a variant and optionally pins a version.
type LoadOptions struct {
	Variant string
	Version string
}

// Store reads prompts and partials.
type Store interface {
	List(ctx context.Context) ([]PromptRef, error)
	ListPartials(ctx context.Context) ([]PromptRef, error)
	Load(ctx context.Context, name string, opts LoadOptions) (PromptData, error)
	LoadPartial(ctx context.Context, name string, opts LoadOptions) (PromptData, error)
}

// Writer is a Store that can be modified.
type Writer interface {
	Store
	Save(ctx context.Context, p PromptData) error
	SavePartial(ctx context.Context, p PromptData) error
	Delete(ctx context.Context, name, variant string) error
}

// SchemaSource reads named schemas as shorthand YAML documents.
type SchemaSource interface {
	ListSchemas(ctx context.Context) ([]string, error)
	LoadSchema(ctx context.Context, name string) (string, error)
}

// SchemaWriter stores named schemas.
type SchemaWriter interface {
	SchemaSource
	SaveSchema(ctx context.Context, name, source string) error
}

// Version is the content hash used as a prompt version.
func Version(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// CheckVersion fails when a pinned version differs from the stored one.
func CheckVersion(name string, opts LoadOptions, got string) error {
	if opts.Version == "" || opts.Version == got {
		return nil
	}
	return fmt.Errorf("%w for %q: requested %s but found %s", ErrVersionMismatch, name, opts.Version, got)
}

// PartialResolver serves partials from s.
func PartialResolver(s Store) prompt.PartialResolver {
	return prompt.PartialResolverFunc(func(ctx context.Context, name string) (string, bool, error) {
		p, err := s.LoadPartial(ctx, name, LoadOptions{})
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return p.Source, true, nil
	})
}

type chainKey struct{}

// SchemaResolver compiles named schemas from src. Schemas may reference
// each other; a reference back into the chain being resolved fails with
// ErrSchemaCycle.
func SchemaResolver(src SchemaSource) picoschema.Resolver {
	var resolver picoschema.Resolver
	resolver = picoschema.ResolverFunc(func(ctx context.Context, name string) (picoschema.Node, bool, error) {
		chain, _ := ctx.Value(chainKey{}).([]string)
		if slices.Contains(chain, name) {
			return nil, false, fmt.Errorf("%w: %v -> %s", ErrSchemaCycle, chain, name)
		}

		source, err := src.LoadSchema(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		var doc picoschema.Fields
		var raw any
		if err := yaml.Unmarshal([]byte(source), &doc); err == nil {
			raw = doc
		} else if err := yaml.Unmarshal([]byte(source), &raw); err != nil {
			return nil, false, fmt.Errorf("parse schema %q: %w", name, err)
		}

		ctx = context.WithValue(ctx, chainKey{}, append(slices.Clone(chain), name))
		n, err := picoschema.Compile(ctx, raw, picoschema.Options{Resolver: resolver})
		if err != nil {
			return nil, false, fmt.Errorf("compile schema %q: %w", name, err)
		}
		return n, n != nil, nil
	})
	return resolver
}
