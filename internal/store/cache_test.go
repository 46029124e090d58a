// ABOUTME: Tests for the SQLite conversation cache
// ABOUTME: Covers schema creation, upsert semantics, and ordering by recency

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prepdesk/prepchat/internal/chat"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "cache.db")

	cache, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cache.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("cache file was not created in nested directory")
	}
}

func TestPutAndList(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	title := "Binary search trees"
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	err := cache.Put(ctx, []chat.ConversationSummary{
		{ID: "c1", Title: &title, ContextType: chat.ContextGeneral, UpdatedAt: older},
		{ID: "c2", ContextType: chat.ContextGeneral, UpdatedAt: newer},
		{ID: "c3", ContextType: chat.ContextSession, SessionID: "s9", UpdatedAt: newer},
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := cache.List(ctx, chat.ContextGeneral)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(got))
	}
	if got[0].ID != "c2" || got[1].ID != "c1" {
		t.Errorf("expected most recent first, got %q then %q", got[0].ID, got[1].ID)
	}
	if got[1].Title == nil || *got[1].Title != title {
		t.Errorf("title not round-tripped: %v", got[1].Title)
	}
	if got[0].Title != nil {
		t.Errorf("expected nil title for untitled conversation, got %q", *got[0].Title)
	}
	if !got[0].UpdatedAt.Equal(newer) {
		t.Errorf("UpdatedAt mismatch: got %v, want %v", got[0].UpdatedAt, newer)
	}
}

func TestPut_UpsertsExisting(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	if err := cache.Put(ctx, []chat.ConversationSummary{
		{ID: "c1", ContextType: chat.ContextGeneral, UpdatedAt: first},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	title := "Renamed"
	if err := cache.Put(ctx, []chat.ConversationSummary{
		{ID: "c1", Title: &title, ContextType: chat.ContextGeneral, UpdatedAt: second},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := cache.List(ctx, chat.ContextGeneral)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 conversation after upsert, got %d", len(got))
	}
	if got[0].Title == nil || *got[0].Title != title {
		t.Errorf("title not updated: %v", got[0].Title)
	}
	if !got[0].UpdatedAt.Equal(second) {
		t.Errorf("UpdatedAt not updated: got %v", got[0].UpdatedAt)
	}
}

func TestList_FiltersByContextType(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := cache.Put(ctx, []chat.ConversationSummary{
		{ID: "g1", ContextType: chat.ContextGeneral, UpdatedAt: now},
		{ID: "s1", ContextType: chat.ContextSession, SessionID: "day-3", UpdatedAt: now},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := cache.List(ctx, chat.ContextSession)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("expected only the session conversation, got %+v", got)
	}
	if got[0].SessionID != "day-3" {
		t.Errorf("SessionID mismatch: got %q", got[0].SessionID)
	}
}

func TestList_EmptyCache(t *testing.T) {
	cache := newTestCache(t)

	got, err := cache.List(context.Background(), chat.ContextGeneral)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty listing, got %d rows", len(got))
	}
}
