package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
)

func fixedLog(t *testing.T, now time.Time) *Log {
	t.Helper()
	l := New(Config{Enabled: true, Dir: filepath.Join(t.TempDir(), "audit"), RetentionDays: 7})
	l.now = func() time.Time { return now }
	return l
}

func TestWriteAppendsSameDay(t *testing.T) {
	now := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	l := fixedLog(t, now)

	out := &prompt.RenderedPrompt{
		Config: map[string]any{"model": "openai/gpt-4o"},
		Messages: []message.Message{
			{Role: message.RoleSystem, Content: []message.Part{message.TextPart{Text: "s"}}},
			{Role: message.RoleUser, Content: []message.Part{message.TextPart{Text: "u"}}},
		},
	}
	data := prompt.DataArgument{Input: map[string]any{"name": "Ada"}}
	if err := l.Write(NewRecord("greet", "", "v1", data, out, nil)); err != nil {
		t.Fatalf("write first audit record: %v", err)
	}
	if err := l.Write(NewRecord("greet", "short", "", data, nil, errors.New("boom"))); err != nil {
		t.Fatalf("write second audit record: %v", err)
	}

	if _, err := os.Stat(filepath.Join(l.cfg.Dir, "render-2026-02-27.jsonl")); err != nil {
		t.Fatalf("expected dated audit file: %v", err)
	}

	recs, err := l.Read(now)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.NotEmpty(t, recs[0].ID)
	require.NotEqual(t, recs[0].ID, recs[1].ID)
	require.Equal(t, "2026-02-27T10:00:00Z", recs[0].Timestamp)
	require.Equal(t, "openai/gpt-4o", recs[0].Model)
	require.Equal(t, []string{"system", "user"}, recs[0].Roles)
	require.Equal(t, "u", recs[0].Messages[1].Text())
	require.Equal(t, recs[0].InputDigest, recs[1].InputDigest)
	require.Equal(t, "boom", recs[1].Error)
	require.Equal(t, "short", recs[1].Variant)
}

func TestInputDigestStable(t *testing.T) {
	a := inputDigest(prompt.DataArgument{Input: map[string]any{"a": 1, "b": 2}})
	b := inputDigest(prompt.DataArgument{Input: map[string]any{"b": 2, "a": 1}})
	c := inputDigest(prompt.DataArgument{Input: map[string]any{"a": 2}})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestDisabledIsNoop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	l := New(Config{Dir: dir})
	require.NoError(t, l.Write(Record{Prompt: "x"}))
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected no audit dir for disabled log")
	}

	var nilLog *Log
	require.NoError(t, nilLog.Write(Record{}))
}

func TestCleanupByDateAndModTime(t *testing.T) {
	now := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	l := fixedLog(t, now)
	if err := os.MkdirAll(l.cfg.Dir, 0755); err != nil {
		t.Fatalf("mkdir audit dir: %v", err)
	}

	oldByName := filepath.Join(l.cfg.Dir, "render-2026-02-18.jsonl")
	newByName := filepath.Join(l.cfg.Dir, "render-2026-02-26.jsonl")
	fallbackOld := filepath.Join(l.cfg.Dir, "render-not-a-date.jsonl")
	other := filepath.Join(l.cfg.Dir, "other-2020-01-01.jsonl")
	for _, p := range []string{oldByName, newByName, fallbackOld, other} {
		if err := os.WriteFile(p, []byte("{}"), 0644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	oldModTime := now.AddDate(0, 0, -10)
	if err := os.Chtimes(fallbackOld, oldModTime, oldModTime); err != nil {
		t.Fatalf("set fallback old modtime: %v", err)
	}

	require.NoError(t, l.Cleanup())

	if _, err := os.Stat(oldByName); !os.IsNotExist(err) {
		t.Fatalf("expected old-by-name file removed")
	}
	if _, err := os.Stat(newByName); err != nil {
		t.Fatalf("expected new-by-name file kept: %v", err)
	}
	if _, err := os.Stat(fallbackOld); !os.IsNotExist(err) {
		t.Fatalf("expected fallback old-modtime file removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected file with another prefix kept: %v", err)
	}
}

func TestSchedule(t *testing.T) {
	l := fixedLog(t, time.Now())
	c := cron.New()
	id, err := l.Schedule(c, "@daily")
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, c.Entries(), 1)

	_, err = l.Schedule(c, "not a spec")
	require.Error(t, err)
}
