package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/AxoRm/glass/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "glass.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetOrCreateActiveReusesSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateActive(ctx, "ask")
	if err != nil {
		t.Fatalf("GetOrCreateActive: %v", err)
	}
	if first == "" {
		t.Fatal("empty session id")
	}

	second, err := store.GetOrCreateActive(ctx, "ask")
	if err != nil {
		t.Fatalf("GetOrCreateActive: %v", err)
	}
	if second != first {
		t.Errorf("active session not reused: %q != %q", second, first)
	}

	other, err := store.GetOrCreateActive(ctx, "transcribe")
	if err != nil {
		t.Fatalf("GetOrCreateActive: %v", err)
	}
	if other == first {
		t.Error("different kinds must not share a session")
	}
}

func TestCloseSessionStartsFresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := store.GetOrCreateActive(ctx, "ask")
	if err := store.CloseSession(ctx, first); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	second, err := store.GetOrCreateActive(ctx, "ask")
	if err != nil {
		t.Fatalf("GetOrCreateActive: %v", err)
	}
	if second == first {
		t.Error("closed session must not be returned as active")
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.GetOrCreateActive(ctx, "ask")

	turns := []domain.StoredMessage{
		{SessionID: id, Role: "user", Content: "first question"},
		{SessionID: id, Role: "assistant", Content: "first answer", Model: "gpt-4.1"},
		{SessionID: id, Role: "user", Content: "second question"},
	}
	for _, m := range turns {
		if err := store.AddMessage(ctx, m); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	got, err := store.RecentMessages(ctx, id, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages", len(got))
	}
	for i, want := range turns {
		if got[i].Role != want.Role || got[i].Content != want.Content {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want)
		}
	}
	if got[1].Model != "gpt-4.1" {
		t.Errorf("model = %q", got[1].Model)
	}
}

func TestRecentMessagesLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.GetOrCreateActive(ctx, "ask")
	for _, content := range []string{"one", "two", "three", "four"} {
		if err := store.AddMessage(ctx, domain.StoredMessage{SessionID: id, Role: "user", Content: content}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	got, err := store.RecentMessages(ctx, id, 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages", len(got))
	}
	// Limit keeps the newest, returned oldest first.
	if got[0].Content != "three" || got[1].Content != "four" {
		t.Errorf("limited window = %q, %q", got[0].Content, got[1].Content)
	}
}
