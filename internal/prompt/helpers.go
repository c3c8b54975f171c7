package prompt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/kayz/dotprompt/internal/message"
)

func builtinHelpers() map[string]any {
	return map[string]any{
		"role":         roleHelper,
		"history":      historyHelper,
		"section":      sectionHelper,
		"media":        mediaHelper,
		"json":         jsonHelper,
		"ifEquals":     ifEqualsHelper,
		"unlessEquals": unlessEqualsHelper,
	}
}

func roleHelper(role string) raymond.SafeString {
	return raymond.SafeString(message.RoleMarkerText(role))
}

func historyHelper() raymond.SafeString {
	return raymond.SafeString(message.HistoryMarkerText())
}

func sectionHelper(name string) raymond.SafeString {
	return raymond.SafeString(message.SectionMarkerText(name))
}

// {{media url=... contentType=...}}
func mediaHelper(options *raymond.Options) raymond.SafeString {
	return raymond.SafeString(message.MediaMarkerText(options.HashStr("url"), options.HashStr("contentType")))
}

// {{json value indent=2}}
func jsonHelper(v any, options *raymond.Options) raymond.SafeString {
	var (
		b   []byte
		err error
	)
	indent := 0
	if n, ok := options.HashProp("indent").(int); ok {
		indent = n
	}
	if indent > 0 {
		b, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		// raymond reports a panicking helper's error from Exec.
		panic(fmt.Errorf("json helper: %w", err))
	}
	return raymond.SafeString(b)
}

func ifEqualsHelper(a, b any, options *raymond.Options) raymond.SafeString {
	if equal(a, b) {
		return raymond.SafeString(options.Fn())
	}
	return raymond.SafeString(options.Inverse())
}

func unlessEqualsHelper(a, b any, options *raymond.Options) raymond.SafeString {
	if !equal(a, b) {
		return raymond.SafeString(options.Fn())
	}
	return raymond.SafeString(options.Inverse())
}

// equal compares helper arguments. Strings are compared by content since
// context values arrive as raymond.SafeString and literals as string.
func equal(a, b any) bool {
	if isText(a) || isText(b) {
		return isText(a) && isText(b) && raymond.Str(a) == raymond.Str(b)
	}
	return reflect.DeepEqual(a, b)
}

func isText(v any) bool {
	switch v.(type) {
	case string, raymond.SafeString:
		return true
	}
	return false
}

// unescaped marks every string in v as safe so raymond emits it verbatim.
// Prompts are not HTML.
func unescaped(v any) any {
	switch t := v.(type) {
	case string:
		return raymond.SafeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = unescaped(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = unescaped(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = raymond.SafeString(e)
		}
		return out
	default:
		return v
	}
}
