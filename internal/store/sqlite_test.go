// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers thread uniqueness, atomic turn appends, ordering, documents, users and usage

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a SQLite store backed by a temp file
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newThread(id, ownerID, text string, createdAt time.Time) *Thread {
	return &Thread{
		ID:           id,
		OwnerID:      ownerID,
		DocumentText: text,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func docFor(ownerID, text string) DocumentContext {
	return DocumentContext{OwnerID: ownerID, FullText: text}
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.CreateThread(context.Background(), newThread("t1", "u1", "text", time.Now())))
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.CreateThread(ctx, newThread("t1", "u1", "text", time.Now())))
	require.NoError(t, store.Close())

	// Migrations must be idempotent on an existing database
	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "text", got.DocumentText)
}

func TestNewSQLiteStore_FreshSchemaHasDocumentID(t *testing.T) {
	store := newTestStore(t)

	var exists int
	err := store.db.QueryRow(`SELECT 1 FROM pragma_table_info('threads') WHERE name = 'document_id'`).Scan(&exists)
	require.NoError(t, err)
	assert.Equal(t, 1, exists)
}

func TestNewSQLiteStore_MigratesLegacyThreads(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	ctx := context.Background()

	legacy, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE threads (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			document_hash TEXT NOT NULL,
			document_text TEXT NOT NULL,
			turn_count    INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`)
	require.NoError(t, err)
	now := formatTime(time.Now())
	_, err = legacy.Exec(`INSERT INTO threads (id, owner_id, document_hash, document_text, turn_count, created_at, updated_at)
		VALUES ('old', 'u1', ?, 'legacy text', 0, ?, ?)`, HashText("legacy text"), now, now)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetThread(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "legacy text", got.DocumentText)
	assert.Empty(t, got.DocumentID)
}

func TestCreateAndFindThread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	thread := newThread("thread-1", "user-1", "The quick brown fox.", now)
	thread.DocumentID = "doc-1"
	require.NoError(t, store.CreateThread(ctx, thread))
	assert.Equal(t, HashText("The quick brown fox."), thread.DocumentHash)

	got, err := store.FindThread(ctx, "user-1", docFor("user-1", "The quick brown fox."))
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ID)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, 0, got.TurnCount)
	assert.Empty(t, got.Turns)
	assert.True(t, got.CreatedAt.Equal(now), "created_at should round-trip with nanoseconds")
}

func TestFindThread_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateThread(ctx, newThread("t1", "user-1", "doc A", time.Now())))

	_, err := store.FindThread(ctx, "user-1", docFor("user-1", "doc B"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Same text, other owner
	_, err = store.FindThread(ctx, "user-2", docFor("user-2", "doc A"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateThread_DuplicatePair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateThread(ctx, newThread("t1", "user-1", "same text", time.Now())))

	err := store.CreateThread(ctx, newThread("t2", "user-1", "same text", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateThread)

	// Different owner with the same text gets its own thread
	require.NoError(t, store.CreateThread(ctx, newThread("t3", "user-2", "same text", time.Now())))
}

func TestFindThread_HashCollisionIsNotAMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Forge a thread whose stored hash belongs to a different text
	forged := newThread("t1", "user-1", "text A", time.Now())
	forged.DocumentHash = HashText("text B")
	require.NoError(t, store.CreateThread(ctx, forged))

	_, err := store.FindThread(ctx, "user-1", docFor("user-1", "text B"))
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.CreateThread(ctx, newThread("t2", "user-1", "text B", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateThread)
}

func TestGetThread_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetThread(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.CreateThread(ctx, newThread("t1", "user-1", "doc", created)))

	got, err := store.AppendTurns(ctx, "t1", []Turn{
		{Role: RoleUser, Content: "What is this?"},
		{Role: RoleAssistant, Content: "A document."},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.TurnCount)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, 0, got.Turns[0].Seq)
	assert.Equal(t, RoleUser, got.Turns[0].Role)
	assert.Equal(t, "What is this?", got.Turns[0].Content)
	assert.Equal(t, 1, got.Turns[1].Seq)
	assert.Equal(t, RoleAssistant, got.Turns[1].Role)
	assert.True(t, got.UpdatedAt.After(created), "updated_at should advance")

	got, err = store.AppendTurns(ctx, "t1", []Turn{
		{Role: RoleUser, Content: "Summarize."},
		{Role: RoleAssistant, Content: "Short."},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got.TurnCount)
	assert.Equal(t, "Summarize.", got.Turns[2].Content)
	assert.Equal(t, 3, got.Turns[3].Seq)
}

func TestAppendTurns_Errors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendTurns(ctx, "missing", []Turn{{Role: RoleUser, Content: "x"}})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreateThread(ctx, newThread("t1", "user-1", "doc", time.Now())))

	_, err = store.AppendTurns(ctx, "t1", nil)
	assert.Error(t, err)

	_, err = store.AppendTurns(ctx, "t1", []Turn{
		{Role: RoleUser, Content: "ok"},
		{Role: "system", Content: "nope"},
	})
	assert.Error(t, err)

	// Nothing from the rejected group was written
	got, err := store.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TurnCount)
	assert.Empty(t, got.Turns)
}

func TestAppendTurns_ErrorMeansNothingCommitted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateThread(ctx, newThread("t1", "user-1", "doc", time.Now())))
	_, err := store.AppendTurns(ctx, "t1", []Turn{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
	})
	require.NoError(t, err)

	// An unreadable existing row makes the result unbuildable
	_, err = store.db.ExecContext(ctx, `UPDATE turns SET created_at = 'not-a-time' WHERE thread_id = 't1' AND seq = 0`)
	require.NoError(t, err)

	_, err = store.AppendTurns(ctx, "t1", []Turn{
		{Role: RoleUser, Content: "q2"},
		{Role: RoleAssistant, Content: "a2"},
	})
	require.Error(t, err)

	var turnCount, rows int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT turn_count FROM threads WHERE id = 't1'`).Scan(&turnCount))
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE thread_id = 't1'`).Scan(&rows))
	assert.Equal(t, 2, turnCount, "failed append must not advance turn_count")
	assert.Equal(t, 2, rows, "failed append must not leave turn rows")
}

func TestAppendTurns_ConcurrentGroupsStayIntact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateThread(ctx, newThread("t1", "user-1", "doc", time.Now())))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendTurns(ctx, "t1", []Turn{
				{Role: RoleUser, Content: fmt.Sprintf("q%d", i)},
				{Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetThread(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2*writers, got.TurnCount)
	require.Len(t, got.Turns, 2*writers)

	for i := 0; i < len(got.Turns); i += 2 {
		q, a := got.Turns[i], got.Turns[i+1]
		assert.Equal(t, i, q.Seq)
		assert.Equal(t, RoleUser, q.Role)
		assert.Equal(t, RoleAssistant, a.Role)
		assert.Equal(t, "a"+q.Content[1:], a.Content, "pair at %d was split", i)
	}
}

func TestListThreads_Ordering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateThread(ctx, newThread("oldest", "user-1", "doc 1", base)))
	require.NoError(t, store.CreateThread(ctx, newThread("middle", "user-1", "doc 2", base.Add(time.Minute))))
	require.NoError(t, store.CreateThread(ctx, newThread("newest", "user-1", "doc 3", base.Add(2*time.Minute))))
	require.NoError(t, store.CreateThread(ctx, newThread("other", "user-2", "doc 1", base.Add(3*time.Minute))))

	// Activity on the oldest thread moves it to the front only in activity order
	_, err := store.AppendTurns(ctx, "oldest", []Turn{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	})
	require.NoError(t, err)

	threads, err := store.ListThreads(ctx, "user-1", ListThreadsOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "oldest"}, threadIDs(threads))
	assert.Nil(t, threads[2].Turns, "turns are not loaded unless requested")

	threads, err = store.ListThreads(ctx, "user-1", ListThreadsOptions{ByActivity: true, WithTurns: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest", "newest", "middle"}, threadIDs(threads))
	assert.Len(t, threads[0].Turns, 2)

	threads, err = store.ListThreads(ctx, "user-1", ListThreadsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle"}, threadIDs(threads))
}

func TestListThreads_Empty(t *testing.T) {
	store := newTestStore(t)

	threads, err := store.ListThreads(context.Background(), "nobody", ListThreadsOptions{})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func threadIDs(threads []*Thread) []string {
	ids := make([]string, len(threads))
	for i, th := range threads {
		ids[i] = th.ID
	}
	return ids
}

func TestSaveDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, err := store.SaveDocument(ctx, "user-1", "Page one text.")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, HashText("Page one text."), doc.Hash)

	// Same text again resolves to the same document
	again, err := store.SaveDocument(ctx, "user-1", "Page one text.")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)

	// Another owner gets a separate document
	other, err := store.SaveDocument(ctx, "user-2", "Page one text.")
	require.NoError(t, err)
	assert.NotEqual(t, doc.ID, other.ID)

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Page one text.", got.FullText)
	assert.Equal(t, DocumentContext{ID: doc.ID, OwnerID: "user-1", FullText: "Page one text."}, got.Context())

	_, err = store.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertUserByGoogleID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.UpsertUserByGoogleID(ctx, "google-sub-1", "Ada", "ada@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	again, err := store.UpsertUserByGoogleID(ctx, "google-sub-1", "Ada L.", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "Ada", again.Name, "existing user is returned unchanged")

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "google-sub-1", got.GoogleID)

	_, err = store.GetUser(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.SaveUsage(ctx, &ProviderUsage{
		ID: "u1", ThreadID: "t1", OwnerID: "user-1", Model: "m",
		InputTokens: 100, OutputTokens: 10, CreatedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.SaveUsage(ctx, &ProviderUsage{
		ID: "u2", ThreadID: "t1", OwnerID: "user-1", Model: "m",
		InputTokens: 120, OutputTokens: 20, CreatedAt: now,
	}))
	require.NoError(t, store.SaveUsage(ctx, &ProviderUsage{
		ID: "u3", ThreadID: "t2", OwnerID: "user-2", Model: "m",
		InputTokens: 5, OutputTokens: 5, CreatedAt: now,
	}))

	usages, err := store.GetThreadUsage(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.Equal(t, "u1", usages[0].ID)

	stats, err := store.GetUsageStats(ctx, UsageFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(220), stats.TotalInput)
	assert.Equal(t, int64(30), stats.TotalOutput)
	assert.Equal(t, int64(250), stats.TotalTokens)
	assert.Equal(t, int64(2), stats.RequestCount)

	since := now.Add(-time.Hour)
	stats, err = store.GetUsageStats(ctx, UsageFilter{OwnerID: "user-1", Since: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
}
