// Package sqlite keeps prompts, partials, schemas and chat history in a
// single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/store"
)

// Store is a SQLite-backed prompt store and history log.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS prompts (
			name        TEXT NOT NULL,
			variant     TEXT NOT NULL DEFAULT '',
			kind        TEXT NOT NULL,
			source      TEXT NOT NULL,
			version     TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (kind, name, variant)
		);

		CREATE TABLE IF NOT EXISTS schemas (
			name        TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			platform    TEXT NOT NULL,
			channel_id  TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			is_active   INTEGER NOT NULL DEFAULT 1,
			UNIQUE(platform, channel_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id  INTEGER NOT NULL,
			role             TEXT NOT NULL,
			content          TEXT,
			parts            TEXT,
			created_at       TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	kindPrompt  = "prompt"
	kindPartial = "partial"
)

func (s *Store) List(ctx context.Context) ([]store.PromptRef, error) {
	return s.list(ctx, kindPrompt)
}

func (s *Store) ListPartials(ctx context.Context) ([]store.PromptRef, error) {
	return s.list(ctx, kindPartial)
}

func (s *Store) list(ctx context.Context, kind string) ([]store.PromptRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, variant, version FROM prompts
		WHERE kind = ?
		ORDER BY name, variant
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	defer rows.Close()

	var refs []store.PromptRef
	for rows.Next() {
		var ref store.PromptRef
		if err := rows.Scan(&ref.Name, &ref.Variant, &ref.Version); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) Load(ctx context.Context, name string, opts store.LoadOptions) (store.PromptData, error) {
	return s.load(ctx, kindPrompt, name, opts)
}

func (s *Store) LoadPartial(ctx context.Context, name string, opts store.LoadOptions) (store.PromptData, error) {
	return s.load(ctx, kindPartial, name, opts)
}

func (s *Store) load(ctx context.Context, kind, name string, opts store.LoadOptions) (store.PromptData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p store.PromptData
	err := s.db.QueryRowContext(ctx, `
		SELECT name, variant, version, source FROM prompts
		WHERE kind = ? AND name = ? AND variant = ?
	`, kind, name, opts.Variant).Scan(&p.Name, &p.Variant, &p.Version, &p.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PromptData{}, fmt.Errorf("%s %q: %w", kind, name, store.ErrNotFound)
	}
	if err != nil {
		return store.PromptData{}, fmt.Errorf("load %s %q: %w", kind, name, err)
	}
	if err := store.CheckVersion(name, opts, p.Version); err != nil {
		return store.PromptData{}, err
	}
	return p, nil
}

func (s *Store) Save(ctx context.Context, p store.PromptData) error {
	return s.save(ctx, kindPrompt, p)
}

func (s *Store) SavePartial(ctx context.Context, p store.PromptData) error {
	return s.save(ctx, kindPartial, p)
}

func (s *Store) save(ctx context.Context, kind string, p store.PromptData) error {
	if p.Name == "" {
		return errors.New("prompt name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompts (name, variant, kind, source, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, name, variant) DO UPDATE SET
			source=excluded.source, version=excluded.version, updated_at=excluded.updated_at
	`, p.Name, p.Variant, kind, p.Source, store.Version(p.Source), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save %s %q: %w", kind, p.Name, err)
	}
	return nil
}

// Delete removes a prompt, or a partial of the same name when no prompt exists.
func (s *Store) Delete(ctx context.Context, name, variant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range []string{kindPrompt, kindPartial} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE kind = ? AND name = ? AND variant = ?`, kind, name, variant)
		if err != nil {
			return fmt.Errorf("delete %s %q: %w", kind, name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return fmt.Errorf("prompt %q: %w", name, store.ErrNotFound)
}

func (s *Store) ListSchemas(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM schemas ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) LoadSchema(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var source string
	err := s.db.QueryRowContext(ctx, `SELECT source FROM schemas WHERE name = ?`, name).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("schema %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load schema %q: %w", name, err)
	}
	return source, nil
}

func (s *Store) SaveSchema(ctx context.Context, name, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schemas (name, source, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET source=excluded.source, updated_at=excluded.updated_at
	`, name, source, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save schema %q: %w", name, err)
	}
	return nil
}

// ConversationKey identifies a conversation.
type ConversationKey struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// Conversation gets an existing conversation id or creates a new conversation.
func (s *Store) Conversation(ctx context.Context, key ConversationKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM conversations WHERE platform = ? AND channel_id = ? AND user_id = ?
	`, key.Platform, key.ChannelID, key.UserID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("load conversation: %w", err)
	}

	now := time.Now().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (platform, channel_id, user_id, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, key.Platform, key.ChannelID, key.UserID, now, now)
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}
	return res.LastInsertId()
}

// AppendMessages adds messages to a conversation in order.
func (s *Store) AppendMessages(ctx context.Context, conversationID int64, msgs ...message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)
	for _, m := range msgs {
		parts, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, role, content, parts, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, conversationID, string(m.Role), m.Text(), string(parts), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

// History returns the latest limit messages of a conversation, oldest first.
// Rows written by other tools with only a text content column are read as
// single text parts.
func (s *Store) History(ctx context.Context, conversationID int64, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, parts
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var reversed []message.Message
	for rows.Next() {
		var role string
		var content, parts sql.NullString
		if err := rows.Scan(&role, &content, &parts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m message.Message
		if parts.Valid && parts.String != "" {
			if err := json.Unmarshal([]byte(parts.String), &m); err != nil {
				logger.Warn("Unreadable message parts, using text content: %v", err)
				m = message.Message{}
			}
		}
		if len(m.Content) == 0 {
			if strings.TrimSpace(content.String) == "" {
				continue
			}
			m.Content = []message.Part{message.TextPart{Text: content.String}}
		}
		m.Role = historyRole(role)
		reversed = append(reversed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return reversed, nil
}

func historyRole(role string) message.Role {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case "assistant":
		return message.RoleModel
	case "":
		return message.RoleUser
	default:
		return message.Role(r)
	}
}
