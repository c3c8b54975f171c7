package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(s string) []Token {
	var out []Token
	for tok := range Tokens(s) {
		out = append(out, tok)
	}
	return out
}

func TestTokensRecognizesAllMarkers(t *testing.T) {
	input := "a" + RoleMarkerText("system") +
		"b" + HistoryMarkerText() +
		"c" + MediaMarkerText("https://x/y.png", "image/png") +
		"d" + MediaMarkerText("https://x/z.jpg", "") +
		"e" + SectionMarkerText("output_1") + "f"

	toks := collect(input)
	require.Len(t, toks, 6)
	require.Equal(t, Token{Text: "a", Marker: RoleMarker{Role: RoleSystem}, Raw: "<<<dotprompt:role:system>>>"}, toks[0])
	require.Equal(t, HistoryMarker{}, toks[1].Marker)
	require.Equal(t, MediaMarker{URL: "https://x/y.png", ContentType: "image/png"}, toks[2].Marker)
	require.Equal(t, MediaMarker{URL: "https://x/z.jpg"}, toks[3].Marker)
	require.Equal(t, SectionMarker{Name: "output_1"}, toks[4].Marker)
	require.Equal(t, "<<<dotprompt:section output_1>>>", toks[4].Raw)
	require.Equal(t, Token{Text: "f"}, toks[5])
}

func TestTokensAnyWhitespaceSeparates(t *testing.T) {
	toks := collect("<<<dotprompt:section\n\tnotes>>><<<dotprompt:media:url\nhttps://x/y.png\r\nimage/png>>>")
	require.Len(t, toks, 3)
	require.Equal(t, SectionMarker{Name: "notes"}, toks[0].Marker)
	require.Equal(t, MediaMarker{URL: "https://x/y.png", ContentType: "image/png"}, toks[1].Marker)
}

func TestTokensNearMissesAreText(t *testing.T) {
	cases := []string{
		"<<<dotprompt:role:>>>",
		"<<<dotprompt:ROLE:user>>>",
		"<<<DOTPROMPT:role:user>>>",
		"<<<dotprompt:role:us-er>>>",
		"<<dotprompt:role:user>>>",
		"<<<dotprompt:role:user>>",
		"<<<dotprompt:histories>>>",
		"<<<dotprompt:media:http://x.png>>>",
		"<<<dotprompt:media:url>>>",
		"<<<dotprompt:media:url a b c>>>",
		"<<<dotprompt:section>>>",
		"<<<dotprompt:section >>>",
		"<<<dotprompt:sectionfoo>>>",
	}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			toks := collect("x " + c + " y")
			require.Len(t, toks, 1)
			require.Nil(t, toks[0].Marker)
			require.Equal(t, "x "+c+" y", toks[0].Text)
		})
	}
}

func TestTokensLeftmostWinsAfterNearMiss(t *testing.T) {
	toks := collect("<<<dotprompt:role:>>>" + RoleMarkerText("model") + "hi")
	require.Len(t, toks, 2)
	require.Equal(t, "<<<dotprompt:role:>>>", toks[0].Text)
	require.Equal(t, RoleMarker{Role: RoleModel}, toks[0].Marker)
	require.Equal(t, "hi", toks[1].Text)
}

func TestTokensIsRestartable(t *testing.T) {
	seq := Tokens("a" + HistoryMarkerText() + "b")
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	require.Equal(t, 2, first)
	require.Equal(t, first, second)
}

func TestTokensStopsEarly(t *testing.T) {
	input := strings.Repeat(RoleMarkerText("user")+"x", 10)
	n := 0
	for range Tokens(input) {
		n++
		if n == 3 {
			break
		}
	}
	require.Equal(t, 3, n)
}
