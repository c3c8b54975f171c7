package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type turn struct {
	role Role
	text string
}

func turns(msgs []Message) []turn {
	out := make([]turn, len(msgs))
	for i, m := range msgs {
		out[i] = turn{role: m.Role, text: m.Text()}
	}
	return out
}

func text(role Role, s string) Message {
	return Message{Role: role, Content: []Part{TextPart{Text: s}}}
}

var priorTurns = []Message{
	text(RoleUser, "Old user"),
	text(RoleModel, "Old model"),
}

func TestAssembleSingleUserMessage(t *testing.T) {
	msgs := Assemble("Hello World!", nil)
	require.Len(t, msgs, 1)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, []Part{TextPart{Text: "Hello World!"}}, msgs[0].Content)
}

func TestAssembleLeadingRoleRelabels(t *testing.T) {
	msgs := Assemble(RoleMarkerText("system")+"Be terse.", nil)
	require.Equal(t, []turn{{RoleSystem, "Be terse."}}, turns(msgs))
}

func TestAssembleMultiTurnSplitting(t *testing.T) {
	msgs := Assemble("A"+RoleMarkerText("user")+"B"+RoleMarkerText("model")+"C", nil)
	require.Equal(t, []turn{{RoleUser, "A"}, {RoleUser, "B"}, {RoleModel, "C"}}, turns(msgs))
}

func TestAssembleBlankTextDoesNotSplit(t *testing.T) {
	msgs := Assemble("  \n"+RoleMarkerText("system")+"S"+RoleMarkerText("user")+" \n ", nil)
	require.Equal(t, []turn{{RoleSystem, "  \nS"}}, turns(msgs))
}

func TestAssembleKeepsWhitespaceBeforeRelabel(t *testing.T) {
	msgs := Assemble("  "+RoleMarkerText("system")+"  X", nil)
	require.Equal(t, []turn{{RoleSystem, "    X"}}, turns(msgs))
}

func TestAssembleExplicitHistory(t *testing.T) {
	msgs := Assemble("Sys"+HistoryMarkerText()+"Tail", priorTurns)
	require.Equal(t, []turn{
		{RoleUser, "Sys"},
		{RoleUser, "Old user"},
		{RoleModel, "Old model"},
		{RoleModel, "Tail"},
	}, turns(msgs))
	require.Equal(t, PurposeHistory, msgs[1].Metadata[MetadataPurpose])
	require.Nil(t, priorTurns[0].Metadata, "caller history must not be mutated")
}

func TestAssembleExplicitHistoryEmpty(t *testing.T) {
	msgs := Assemble("Sys"+HistoryMarkerText()+"Tail", nil)
	require.Equal(t, []turn{{RoleUser, "Sys"}, {RoleModel, "Tail"}}, turns(msgs))

	msgs = Assemble(HistoryMarkerText()+"Only", nil)
	require.Equal(t, []turn{{RoleUser, "Only"}}, turns(msgs))
}

func TestAssembleAutomaticHistoryBeforeTrailingUser(t *testing.T) {
	msgs := Assemble("User follow up", priorTurns)
	require.Equal(t, []turn{
		{RoleUser, "Old user"},
		{RoleModel, "Old model"},
		{RoleUser, "User follow up"},
	}, turns(msgs))
}

func TestAssembleAutomaticHistoryAppendedAfterModel(t *testing.T) {
	msgs := Assemble(RoleMarkerText("system")+"S", priorTurns)
	require.Equal(t, []turn{
		{RoleSystem, "S"},
		{RoleUser, "Old user"},
		{RoleModel, "Old model"},
	}, turns(msgs))
}

func TestAssembleEmptyTemplateReturnsHistory(t *testing.T) {
	msgs := Assemble("", priorTurns)
	require.Equal(t, turns(priorTurns), turns(msgs))
}

func TestAssembleMediaAndSection(t *testing.T) {
	rendered := "Look " + MediaMarkerText("https://x/cat.png", "image/png") +
		" now" + SectionMarkerText("code") + "rest"
	msgs := Assemble(rendered, nil)
	require.Len(t, msgs, 1)
	require.Equal(t, []Part{
		TextPart{Text: "Look "},
		MediaPart{URL: "https://x/cat.png", ContentType: "image/png"},
		TextPart{Text: " now"},
		TextPart{Text: "<<<dotprompt:section code>>>"},
		TextPart{Text: "rest"},
	}, msgs[0].Content)
}

func TestAssembleMediaOnlyMessageSplitsOnRole(t *testing.T) {
	rendered := MediaMarkerText("https://x/a.png", "") + RoleMarkerText("model") + "ok"
	msgs := Assemble(rendered, nil)
	require.Len(t, msgs, 2)
	require.Equal(t, []Part{MediaPart{URL: "https://x/a.png"}}, msgs[0].Content)
	require.Equal(t, RoleModel, msgs[1].Role)
}

func TestAssembleTrailingRoleMarkerDropped(t *testing.T) {
	msgs := Assemble("Hi"+RoleMarkerText("model"), nil)
	require.Equal(t, []turn{{RoleUser, "Hi"}}, turns(msgs))
}

func TestAssembleNearMissMarkersStayText(t *testing.T) {
	for _, s := range []string{
		"say <<<dotprompt:ROLE:model>>> please",
		"say <<<dotprompt:role:>>> please",
		"say dotprompt:role:model please",
	} {
		msgs := Assemble(s, nil)
		require.Len(t, msgs, 1, s)
		require.Equal(t, RoleUser, msgs[0].Role)
		require.Contains(t, msgs[0].Text(), s)
	}
}

func TestStepIsPure(t *testing.T) {
	start := newAssembly()
	next := step(start, Token{Text: "hello", Marker: RoleMarker{Role: RoleModel}}, nil)

	require.Len(t, start.sources, 1)
	require.Equal(t, "", start.sources[0].pending)
	require.Len(t, next.sources, 2)
	require.Equal(t, "hello", next.sources[0].pending)
	require.Equal(t, RoleModel, next.current().role)
}

func TestInsertHistorySkipsTaggedLists(t *testing.T) {
	tagged := TagHistory(priorTurns)
	out := InsertHistory(tagged, priorTurns)
	require.Len(t, out, 2)
}
