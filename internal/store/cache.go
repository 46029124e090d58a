// ABOUTME: SQLite-backed local cache of conversation summaries using modernc.org/sqlite
// ABOUTME: Lets the history command list past conversations without hitting the gateway

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prepdesk/prepchat/internal/chat"
)

// Cache persists conversation summaries between runs so the history
// listing works offline and renders instantly while a refresh is in flight.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a cache at the given path. The schema is created
// automatically, and parent directories are created if needed.
func Open(path string) (*Cache, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	// WAL keeps reads snappy if a refresh writes concurrently
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &Cache{
		db:     db,
		logger: logger,
	}

	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("conversation cache opened", "path", path)
	return c, nil
}

func (c *Cache) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT PRIMARY KEY,
			title        TEXT,
			context_type TEXT NOT NULL,
			session_id   TEXT,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_context
			ON conversations(context_type, updated_at DESC);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Put upserts a batch of summaries, typically the full listing returned by
// the gateway. Existing rows for other context types are left alone.
func (c *Cache) Put(ctx context.Context, summaries []chat.ConversationSummary) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversations (id, title, context_type, session_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			context_type = excluded.context_type,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range summaries {
		var title sql.NullString
		if s.Title != nil {
			title = sql.NullString{String: *s.Title, Valid: true}
		}
		var sessionID sql.NullString
		if s.SessionID != "" {
			sessionID = sql.NullString{String: s.SessionID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, s.ID, title, string(s.ContextType), sessionID, s.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("upserting conversation %s: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

// List returns cached summaries for a context type, most recent first.
func (c *Cache) List(ctx context.Context, contextType chat.ContextType) ([]chat.ConversationSummary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, title, context_type, session_id, updated_at
		FROM conversations
		WHERE context_type = ?
		ORDER BY updated_at DESC
	`, string(contextType))
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []chat.ConversationSummary
	for rows.Next() {
		var (
			s         chat.ConversationSummary
			title     sql.NullString
			sessionID sql.NullString
			ct        string
			updatedAt string
		)
		if err := rows.Scan(&s.ID, &title, &ct, &sessionID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if title.Valid {
			s.Title = &title.String
		}
		if sessionID.Valid {
			s.SessionID = sessionID.String
		}
		s.ContextType = chat.ContextType(ct)
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp for %s: %w", s.ID, err)
		}
		s.UpdatedAt = ts
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
