// Package dir stores prompts as files:
//
//	<root>/<name>[.<variant>].prompt   prompts
//	<root>/_<name>[.<variant>].prompt  partials
//	<root>/schemas/<name>.yaml         named schemas
//
// Names may contain "/" to address subdirectories.
package dir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/store"
)

const (
	promptExt  = ".prompt"
	schemaExt  = ".yaml"
	schemasDir = "schemas"
)

// Store is a directory-backed prompt store.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create prompt dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) List(ctx context.Context) ([]store.PromptRef, error) {
	return s.scan(ctx, false)
}

func (s *Store) ListPartials(ctx context.Context) ([]store.PromptRef, error) {
	return s.scan(ctx, true)
}

func (s *Store) scan(ctx context.Context, partials bool) ([]store.PromptRef, error) {
	var refs []store.PromptRef
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.root && d.Name() == schemasDir && filepath.Dir(p) == s.root {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		if !strings.HasSuffix(base, promptExt) || strings.HasPrefix(base, "_") != partials {
			return nil
		}

		name, variant, ok := ParseFilename(strings.TrimPrefix(base, "_"))
		if !ok {
			logger.Warn("Skipping prompt file with invalid name: %s", p)
			return nil
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(p))
		if err != nil {
			return err
		}
		if rel != "." {
			name = path.Join(filepath.ToSlash(rel), name)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		refs = append(refs, store.PromptRef{Name: name, Variant: variant, Version: store.Version(string(content))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan prompt dir: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Variant < refs[j].Variant
	})
	return refs, nil
}

func (s *Store) Load(ctx context.Context, name string, opts store.LoadOptions) (store.PromptData, error) {
	return s.load(name, opts, "")
}

func (s *Store) LoadPartial(ctx context.Context, name string, opts store.LoadOptions) (store.PromptData, error) {
	return s.load(name, opts, "_")
}

func (s *Store) load(name string, opts store.LoadOptions, prefix string) (store.PromptData, error) {
	p, err := s.filePath(name, opts.Variant, prefix)
	if err != nil {
		return store.PromptData{}, err
	}
	content, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return store.PromptData{}, fmt.Errorf("prompt %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return store.PromptData{}, fmt.Errorf("read %s: %w", p, err)
	}

	source := string(content)
	version := store.Version(source)
	if err := store.CheckVersion(name, opts, version); err != nil {
		return store.PromptData{}, err
	}
	logger.Debug("Loaded %s from %s", name, p)
	return store.PromptData{
		PromptRef: store.PromptRef{Name: name, Variant: opts.Variant, Version: version},
		Source:    source,
	}, nil
}

func (s *Store) Save(ctx context.Context, p store.PromptData) error {
	return s.save(p, "")
}

func (s *Store) SavePartial(ctx context.Context, p store.PromptData) error {
	return s.save(p, "_")
}

func (s *Store) save(p store.PromptData, prefix string) error {
	if p.Name == "" {
		return errors.New("prompt name is required")
	}
	fp, err := s.filePath(p.Name, p.Variant, prefix)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0755); err != nil {
		return fmt.Errorf("create prompt dir: %w", err)
	}
	if err := os.WriteFile(fp, []byte(p.Source), 0644); err != nil {
		return fmt.Errorf("write %s: %w", fp, err)
	}
	return nil
}

// Delete removes a prompt, or a partial of the same name when no prompt exists.
func (s *Store) Delete(ctx context.Context, name, variant string) error {
	for _, prefix := range []string{"", "_"} {
		fp, err := s.filePath(name, variant, prefix)
		if err != nil {
			return err
		}
		err = os.Remove(fp)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", fp, err)
		}
	}
	return fmt.Errorf("prompt %q: %w", name, store.ErrNotFound)
}

func (s *Store) ListSchemas(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, schemasDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), schemaExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), schemaExt))
	}
	return names, nil
}

func (s *Store) LoadSchema(ctx context.Context, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	content, err := os.ReadFile(filepath.Join(s.root, schemasDir, name+schemaExt))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("schema %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read schema %q: %w", name, err)
	}
	return string(content), nil
}

func (s *Store) SaveSchema(ctx context.Context, name, source string) error {
	if err := validName(name); err != nil {
		return err
	}
	dir := filepath.Join(s.root, schemasDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create schema dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name+schemaExt), []byte(source), 0644)
}

func (s *Store) filePath(name, variant, prefix string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	dir, base := path.Split(name)
	file := prefix + base
	if variant != "" {
		file += "." + variant
	}
	file += promptExt
	return filepath.Join(s.root, filepath.FromSlash(dir), file), nil
}

func validName(name string) error {
	if name == "" || path.IsAbs(name) || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid prompt name %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid prompt name %q", name)
		}
	}
	return nil
}

// ParseFilename splits "name[.variant].prompt".
func ParseFilename(filename string) (name, variant string, ok bool) {
	stem, found := strings.CutSuffix(filename, promptExt)
	if !found || stem == "" {
		return "", "", false
	}
	name, variant, _ = strings.Cut(stem, ".")
	if name == "" || strings.Contains(variant, ".") {
		return "", "", false
	}
	return name, variant, true
}
