package picoschema

import (
	"context"
)

// Resolver looks up named schemas. Implementations may block on I/O; the
// compiler calls them from separate goroutines for sibling properties, so
// they must be safe for concurrent use. A missing name is reported with
// found == false and a nil error.
type Resolver interface {
	ResolveSchema(ctx context.Context, name string) (node Node, found bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, name string) (Node, bool, error)

func (f ResolverFunc) ResolveSchema(ctx context.Context, name string) (Node, bool, error) {
	return f(ctx, name)
}

// MapResolver serves schemas from a fixed registry.
type MapResolver map[string]Node

func (m MapResolver) ResolveSchema(_ context.Context, name string) (Node, bool, error) {
	n, ok := m[name]
	return n, ok, nil
}

// Chain tries each resolver in order and returns the first hit.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context, name string) (Node, bool, error) {
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			n, ok, err := r.ResolveSchema(ctx, name)
			if err != nil {
				return nil, false, err
			}
			if ok {
				return n, true, nil
			}
		}
		return nil, false, nil
	})
}
