package message

import (
	"iter"
	"regexp"
)

const (
	markerOpen  = "<<<dotprompt:"
	markerClose = ">>>"
)

// markerPattern is the alternation of the four marker grammars. Anything that
// does not match exactly is left in the surrounding text.
var markerPattern = regexp.MustCompile(
	`<<<dotprompt:(?:` +
		`role:([A-Za-z0-9_]+)` +
		`|(history)` +
		`|media:url\s+([^\s]+?)(?:\s+([^\s]+?))?` +
		`|section\s+([A-Za-z0-9_]+)` +
		`)>>>`,
)

// Marker is a structural event found in rendered template output.
type Marker interface {
	isMarker()
}

// RoleMarker switches the author of the following content.
type RoleMarker struct {
	Role Role
}

// HistoryMarker marks where prior turns are spliced in.
type HistoryMarker struct{}

// MediaMarker embeds a media reference.
type MediaMarker struct {
	URL         string
	ContentType string
}

// SectionMarker marks a named section boundary.
type SectionMarker struct {
	Name string
}

func (RoleMarker) isMarker()    {}
func (HistoryMarker) isMarker() {}
func (MediaMarker) isMarker()   {}
func (SectionMarker) isMarker() {}

// Token is literal text followed by the marker that ended it. The last token of
// a scan carries the trailing text and a nil Marker.
type Token struct {
	Text   string
	Marker Marker
	// Raw is the exact marker substring, empty on the trailing token.
	Raw string
}

// Tokens lexes rendered output left to right. The sequence can be ranged over
// any number of times.
func Tokens(rendered string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		rest := rendered
		for {
			loc := markerPattern.FindStringSubmatchIndex(rest)
			if loc == nil {
				yield(Token{Text: rest})
				return
			}
			tok := Token{
				Text:   rest[:loc[0]],
				Raw:    rest[loc[0]:loc[1]],
				Marker: markerFromMatch(rest, loc),
			}
			if !yield(tok) {
				return
			}
			rest = rest[loc[1]:]
		}
	}
}

func group(s string, loc []int, n int) (string, bool) {
	if loc[2*n] < 0 {
		return "", false
	}
	return s[loc[2*n]:loc[2*n+1]], true
}

func markerFromMatch(s string, loc []int) Marker {
	if role, ok := group(s, loc, 1); ok {
		return RoleMarker{Role: Role(role)}
	}
	if _, ok := group(s, loc, 2); ok {
		return HistoryMarker{}
	}
	if url, ok := group(s, loc, 3); ok {
		contentType, _ := group(s, loc, 4)
		return MediaMarker{URL: url, ContentType: contentType}
	}
	name, _ := group(s, loc, 5)
	return SectionMarker{Name: name}
}

// RoleMarkerText renders the literal marker for a role switch.
func RoleMarkerText(role string) string {
	return markerOpen + "role:" + role + markerClose
}

// HistoryMarkerText renders the literal history marker.
func HistoryMarkerText() string {
	return markerOpen + "history" + markerClose
}

// SectionMarkerText renders the literal marker for a section boundary.
func SectionMarkerText(name string) string {
	return markerOpen + "section " + name + markerClose
}

// MediaMarkerText renders the literal marker for a media reference.
func MediaMarkerText(url, contentType string) string {
	if contentType == "" {
		return markerOpen + "media:url " + url + markerClose
	}
	return markerOpen + "media:url " + url + " " + contentType + markerClose
}
