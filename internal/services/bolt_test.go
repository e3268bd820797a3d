package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkwell-ui/inkwell/internal/models"
	bolt "go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) BoltDB {
	t.Helper()

	db, err := NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testSession(id string, updatedAt time.Time) models.ChatSession {
	return models.ChatSession{
		ID:        id,
		Title:     models.DefaultSessionTitle,
		UpdatedAt: updatedAt,
	}
}

func TestAppendMessageKeepsOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddSession(ctx, testSession("s1", time.Now())); err != nil {
		t.Fatal(err)
	}

	ids := []string{"m1", "m2", "m3", "m4"}
	for _, id := range ids {
		msg := models.Message{ID: id, Role: models.RoleUser, Content: "msg " + id, Timestamp: time.Now()}
		if err := db.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendMessage(%s) error = %v", id, err)
		}
	}

	session, found, err := db.Session(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("Session() = %v, %v", found, err)
	}
	if len(session.Messages) != len(ids) {
		t.Fatalf("got %d messages, want %d", len(session.Messages), len(ids))
	}
	for i, id := range ids {
		if session.Messages[i].ID != id {
			t.Errorf("messages[%d].ID = %q, want %q", i, session.Messages[i].ID, id)
		}
	}
}

func TestUpdateMessageContentIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddSession(ctx, testSession("s1", time.Now())); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"m1", "m2"} {
		if err := db.AppendMessage(ctx, "s1", models.Message{ID: id, Role: models.RoleModel}); err != nil {
			t.Fatal(err)
		}
	}

	for range 2 {
		if err := db.UpdateMessageContent(ctx, "s1", "m2", "Hello"); err != nil {
			t.Fatalf("UpdateMessageContent() error = %v", err)
		}
	}

	session, _, err := db.Session(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Messages[1].Content != "Hello" {
		t.Errorf("messages[1].Content = %q, want %q", session.Messages[1].Content, "Hello")
	}
	if session.Messages[0].Content != "" {
		t.Errorf("messages[0].Content = %q, want untouched", session.Messages[0].Content)
	}
}

func TestSetMessageStreaming(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddSession(ctx, testSession("s1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(ctx, "s1", models.Message{ID: "m1", Role: models.RoleModel, IsStreaming: true}); err != nil {
		t.Fatal(err)
	}

	if err := db.SetMessageStreaming(ctx, "s1", "m1", false); err != nil {
		t.Fatalf("SetMessageStreaming() error = %v", err)
	}

	session, _, err := db.Session(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Messages[0].IsStreaming {
		t.Error("IsStreaming = true, want false")
	}
}

func TestMutationsOnAbsentTargetsAreNoOps(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AppendMessage(ctx, "missing", models.Message{ID: "m1"}); err != nil {
		t.Errorf("AppendMessage on absent session error = %v, want nil", err)
	}
	if err := db.UpdateMessageContent(ctx, "missing", "m1", "x"); err != nil {
		t.Errorf("UpdateMessageContent on absent session error = %v, want nil", err)
	}
	if err := db.SetMessageStreaming(ctx, "missing", "m1", false); err != nil {
		t.Errorf("SetMessageStreaming on absent session error = %v, want nil", err)
	}
	if err := db.DeleteSession(ctx, "missing"); err != nil {
		t.Errorf("DeleteSession on absent session error = %v, want nil", err)
	}

	if err := db.AddSession(ctx, testSession("s1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateMessageContent(ctx, "s1", "missing", "x"); err != nil {
		t.Errorf("UpdateMessageContent on absent message error = %v, want nil", err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}
}

func TestSessionsSortedByUpdatedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	if err := db.AddSession(ctx, testSession("older", old)); err != nil {
		t.Fatal(err)
	}
	if err := db.AddSession(ctx, testSession("newer", time.Now())); err != nil {
		t.Fatal(err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sessions[0].ID != "newer" || sessions[1].ID != "older" {
		t.Fatalf("order = [%s %s], want [newer older]", sessions[0].ID, sessions[1].ID)
	}

	// Any mutation bumps UpdatedAt, so the mutated session moves to the front.
	if err := db.AppendMessage(ctx, "older", models.Message{ID: "m1", Role: models.RoleUser}); err != nil {
		t.Fatal(err)
	}

	sessions, err = db.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sessions[0].ID != "older" {
		t.Errorf("after mutation order[0] = %s, want older", sessions[0].ID)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	session := models.ChatSession{
		ID:    "s1",
		Title: "Round trip",
		Messages: []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hello", Timestamp: ts},
			{ID: "m2", Role: models.RoleModel, Content: "world", Timestamp: ts, IsStreaming: true},
		},
		UpdatedAt: ts,
	}
	if err := db.AddSession(ctx, session); err != nil {
		t.Fatal(err)
	}

	got, found, err := db.Session(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("Session() = %v, %v", found, err)
	}

	if got.ID != session.ID || got.Title != session.Title || !got.UpdatedAt.Equal(session.UpdatedAt) {
		t.Errorf("session = %+v, want %+v", got, session)
	}
	if len(got.Messages) != len(session.Messages) {
		t.Fatalf("got %d messages, want %d", len(got.Messages), len(session.Messages))
	}
	for i, want := range session.Messages {
		g := got.Messages[i]
		if g.ID != want.ID || g.Role != want.Role || g.Content != want.Content ||
			g.IsStreaming != want.IsStreaming || !g.Timestamp.Equal(want.Timestamp) {
			t.Errorf("messages[%d] = %+v, want %+v", i, g, want)
		}
	}
}

func TestStreamingFlagClearedOnReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	db, err := NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	session := models.ChatSession{
		ID:    "s1",
		Title: "Interrupted",
		Messages: []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hello", Timestamp: ts},
			{ID: "m2", Role: models.RoleModel, Content: "partial rep", Timestamp: ts, IsStreaming: true},
		},
		UpdatedAt: ts,
	}
	if err := db.AddSession(ctx, session); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-generation: close without the stream's cleanup
	// ever clearing the flag.
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB() reopen error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	got, found, err := db.Session(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("Session() = %v, %v", found, err)
	}
	if got.Messages[1].IsStreaming {
		t.Error("IsStreaming survived a reopen, want cleared")
	}
	if got.Messages[1].Content != "partial rep" {
		t.Errorf("content = %q, want partial reply preserved", got.Messages[1].Content)
	}
	if !got.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, want untouched %v", got.UpdatedAt, ts)
	}
}

func TestCorruptSessionEntrySkipped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddSession(ctx, testSession("good", time.Now())); err != nil {
		t.Fatal(err)
	}

	err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte("bad"), []byte("{not json"))
	})
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v, want corrupt entry skipped", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "good" {
		t.Errorf("sessions = %+v, want only the good entry", sessions)
	}
}

func TestCorruptArticleEntrySkipped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddArticle(ctx, models.NewArticle("good", "# Good\nbody", time.Now())); err != nil {
		t.Fatal(err)
	}

	err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(articlesBucket).Put([]byte("bad"), []byte("{not json"))
	})
	if err != nil {
		t.Fatal(err)
	}

	articles, err := db.Articles(ctx)
	if err != nil {
		t.Fatalf("Articles() error = %v, want corrupt entry skipped", err)
	}
	if len(articles) != 1 || articles[0].ID != "good" {
		t.Errorf("articles = %+v, want only the good entry", articles)
	}

	// Lookups and deletes skip the corrupt record the same way.
	if _, found, err := db.Article(ctx, "bad"); err != nil || found {
		t.Errorf("Article(bad) = %v, %v, want not found without error", found, err)
	}
	if err := db.DeleteArticle(ctx, "bad"); err != nil {
		t.Errorf("DeleteArticle(bad) error = %v, want nil", err)
	}
}

func TestArticleLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := models.NewArticle("a1", "# First\nbody", time.Now())
	second := models.NewArticle("a2", "# Second\nbody", time.Now())
	if err := db.AddArticle(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := db.AddArticle(ctx, second); err != nil {
		t.Fatal(err)
	}

	articles, err := db.Articles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 2 || articles[0].ID != "a2" || articles[1].ID != "a1" {
		t.Fatalf("articles = %+v, want newest first", articles)
	}

	edited := first.WithEdit("Edited", "# Edited\nnew body")
	if err := db.UpdateArticle(ctx, edited); err != nil {
		t.Fatal(err)
	}
	got, found, err := db.Article(ctx, "a1")
	if err != nil || !found {
		t.Fatalf("Article() = %v, %v", found, err)
	}
	if got.Title != "Edited" || got.Content != "# Edited\nnew body" {
		t.Errorf("article after edit = %+v", got)
	}

	// Updating a deleted article must not resurrect it.
	if err := db.DeleteArticle(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateArticle(ctx, edited); err != nil {
		t.Errorf("UpdateArticle on absent article error = %v, want nil", err)
	}

	articles, err = db.Articles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 || articles[0].ID != "a2" {
		t.Errorf("articles = %+v, want only a2", articles)
	}
}
