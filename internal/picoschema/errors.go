package picoschema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidShape is returned for schema values that are neither strings nor mappings.
	ErrInvalidShape = errors.New("invalid schema shape")
	// ErrUnresolvedReference is returned when a named schema cannot be found.
	ErrUnresolvedReference = errors.New("unresolved schema reference")
	// ErrUnsupportedTag is returned for a parenthetical type other than array, enum or object.
	ErrUnsupportedTag = errors.New("unsupported type tag")
)

// Error locates a compilation failure within the shorthand document.
type Error struct {
	Path []string
	Err  error
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return "picoschema: " + e.Err.Error()
	}
	return fmt.Sprintf("picoschema: at %s: %v", strings.Join(e.Path, "."), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(path []string, err error) *Error {
	p := make([]string, len(path))
	copy(p, path)
	return &Error{Path: p, Err: err}
}
