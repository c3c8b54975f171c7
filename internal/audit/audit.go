// Package audit appends one JSONL record per render to dated files and
// removes files older than the retention window.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
)

const defaultPrefix = "render"

// Config controls where records go and how long they are kept.
type Config struct {
	Enabled       bool
	Dir           string
	FilePrefix    string
	RetentionDays int
}

// Record is one audited render.
type Record struct {
	ID          string            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Prompt      string            `json:"prompt"`
	Variant     string            `json:"variant,omitempty"`
	Version     string            `json:"version,omitempty"`
	Model       string            `json:"model,omitempty"`
	InputDigest string            `json:"input_digest"`
	Roles       []string          `json:"roles,omitempty"`
	Messages    []message.Message `json:"messages,omitempty"`
	HistoryLen  int               `json:"history_len,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// NewRecord describes a render of the named prompt. out may be nil when
// rendering failed.
func NewRecord(name, variant, version string, data prompt.DataArgument, out *prompt.RenderedPrompt, renderErr error) Record {
	rec := Record{
		ID:          uuid.New().String(),
		Prompt:      name,
		Variant:     variant,
		Version:     version,
		InputDigest: inputDigest(data),
		HistoryLen:  len(data.Messages),
	}
	if out != nil {
		rec.Model = out.Model()
		rec.Messages = out.Messages
		for _, m := range out.Messages {
			rec.Roles = append(rec.Roles, string(m.Role))
		}
	}
	if renderErr != nil {
		rec.Error = renderErr.Error()
	}
	return rec
}

// inputDigest hashes the input and context of a render. Map keys are sorted
// by encoding/json, so equal data gives equal digests.
func inputDigest(data prompt.DataArgument) string {
	payload, _ := json.Marshal(struct {
		Input   map[string]any `json:"input,omitempty"`
		Context map[string]any `json:"context,omitempty"`
	}{data.Input, data.Context})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Log writes audit records. It is safe for concurrent use.
type Log struct {
	cfg Config
	mu  sync.Mutex
	now func() time.Time
}

// New creates a Log. A disabled config yields a Log whose writes are no-ops.
func New(cfg Config) *Log {
	if strings.TrimSpace(cfg.FilePrefix) == "" {
		cfg.FilePrefix = defaultPrefix
	}
	return &Log{cfg: cfg, now: time.Now}
}

// Write appends rec to today's file, then applies retention.
func (l *Log) Write(rec Record) error {
	if l == nil || !l.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(l.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	now := l.now()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Timestamp = now.Format(time.RFC3339)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := appendJSONL(l.filePath(now), line); err != nil {
		return err
	}
	return l.cleanup(now)
}

func (l *Log) filePath(day time.Time) string {
	return filepath.Join(l.cfg.Dir, fmt.Sprintf("%s-%s.jsonl", l.cfg.FilePrefix, day.Format("2006-01-02")))
}

func appendJSONL(filePath string, line []byte) error {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

// Read returns the records of one day, oldest first.
func (l *Log) Read(day time.Time) ([]Record, error) {
	data, err := os.ReadFile(l.filePath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Cleanup removes files past the retention window.
func (l *Log) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleanup(l.now())
}

func (l *Log) cleanup(now time.Time) error {
	if !l.cfg.Enabled || l.cfg.RetentionDays <= 0 {
		return nil
	}

	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list audit dir: %w", err)
	}

	prefix := l.cfg.FilePrefix
	cutoff := now.AddDate(0, 0, -l.cfg.RetentionDays)
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		filePath := filepath.Join(l.cfg.Dir, name)
		expired := false
		if fileDate, ok := parseAuditDate(name, prefix); ok {
			expired = fileDate.Before(startOfDay(cutoff))
		} else {
			// Files without a date in their name age by modification time.
			info, err := entry.Info()
			if err != nil {
				return fmt.Errorf("stat audit file %s: %w", filePath, err)
			}
			expired = info.ModTime().Before(cutoff)
		}
		if !expired {
			continue
		}
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old audit file %s: %w", filePath, err)
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		logger.Debug("audit: removed %d expired files: %s", len(removed), strings.Join(removed, ", "))
	}
	return nil
}

// Schedule runs Cleanup on c at the given cron spec, e.g. "@daily".
func (l *Log) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if err := l.Cleanup(); err != nil {
			logger.Warn("audit cleanup failed: %v", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule audit cleanup %q: %w", spec, err)
	}
	return id, nil
}

func parseAuditDate(filename, prefix string) (time.Time, bool) {
	raw := strings.TrimSuffix(filename, ".jsonl")
	raw = strings.TrimPrefix(raw, prefix+"-")
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
