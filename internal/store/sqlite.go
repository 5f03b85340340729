// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/turn persistence with automatic schema creation and serialized appends

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so that lexical order in SQLite equals time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
//
// Write transactions are opened IMMEDIATE with a busy timeout, so concurrent
// AppendTurns calls queue on the database write lock instead of interleaving.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would be its own empty database
	if memory {
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			google_id  TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			text_hash  TEXT NOT NULL,
			full_text  TEXT NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE(owner_id, text_hash)
		);

		CREATE TABLE IF NOT EXISTS threads (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			document_id   TEXT,
			document_hash TEXT NOT NULL,
			document_text TEXT NOT NULL,
			turn_count    INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_owner_document
			ON threads(owner_id, document_hash);

		CREATE INDEX IF NOT EXISTS idx_threads_owner_created
			ON threads(owner_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_threads_owner_updated
			ON threads(owner_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
			id         TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE(thread_id, seq),
			CHECK (role IN ('user', 'assistant')),
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);

		CREATE TABLE IF NOT EXISTS provider_usage (
			id            TEXT PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			owner_id      TEXT NOT NULL,
			model         TEXT NOT NULL DEFAULT '',
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_provider_usage_thread
			ON provider_usage(thread_id);

		CREATE INDEX IF NOT EXISTS idx_provider_usage_owner_created
			ON provider_usage(owner_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations brings databases created by older releases up to the current
// schema. Fresh databases already match it, so every step is a no-op there.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "threads",
			column: "document_id",
			apply:  `ALTER TABLE threads ADD COLUMN document_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const threadColumns = `id, owner_id, document_id, document_hash, document_text, turn_count, created_at, updated_at`

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var documentID sql.NullString
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&thread.ID,
		&thread.OwnerID,
		&documentID,
		&thread.DocumentHash,
		&thread.DocumentText,
		&thread.TurnCount,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	thread.DocumentID = documentID.String

	var err error
	thread.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	thread.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &thread, nil
}

// CreateThread creates a new thread with an empty turn sequence.
// If a thread already exists for the same owner and document hash,
// it returns ErrDuplicateThread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.DocumentHash == "" {
		thread.DocumentHash = HashText(thread.DocumentText)
	}

	query := `
		INSERT INTO threads (id, owner_id, document_id, document_hash, document_text, turn_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		thread.ID,
		thread.OwnerID,
		nullString(thread.DocumentID),
		thread.DocumentHash,
		thread.DocumentText,
		formatTime(thread.CreatedAt),
		formatTime(thread.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	thread.TurnCount = 0
	thread.Turns = nil
	s.logger.Debug("created thread", "id", thread.ID, "owner_id", thread.OwnerID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FindThread looks up the thread for an owner and document. The hash narrows
// the search through idx_threads_owner_document; the text comparison makes a
// hash collision a miss rather than a match.
// Returns ErrNotFound if no thread exists for the pair.
func (s *SQLiteStore) FindThread(ctx context.Context, ownerID string, doc DocumentContext) (*Thread, error) {
	query := `SELECT ` + threadColumns + `
		FROM threads
		WHERE owner_id = ? AND document_hash = ? AND document_text = ?
	`

	thread, err := scanThread(s.db.QueryRowContext(ctx, query, ownerID, doc.Hash(), doc.FullText))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread by document: %w", err)
	}

	thread.Turns, err = s.loadTurns(ctx, s.db, thread.ID)
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// GetThread retrieves a thread and its turns by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = ?`

	thread, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	thread.Turns, err = s.loadTurns(ctx, s.db, thread.ID)
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// loadTurns returns the turns of a thread ordered by position
func (s *SQLiteStore) loadTurns(ctx context.Context, q queryer, threadID string) ([]Turn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, role, content, created_at
		FROM turns
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var role, createdAtStr string
		if err := rows.Scan(&turn.Seq, &role, &turn.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turn.Role = Role(role)
		turn.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

// AppendTurns appends turns to a thread inside one transaction. The group
// gets consecutive positions starting at the thread's current turn count, so
// two concurrent appends can never interleave within a group.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) AppendTurns(ctx context.Context, threadID string, turns []Turn) (*Thread, error) {
	if len(turns) == 0 {
		return nil, errors.New("appending turns: empty turn group")
	}
	for _, t := range turns {
		if !t.Role.Valid() {
			return nil, fmt.Errorf("appending turns: invalid role %q", t.Role)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `SELECT turn_count FROM threads WHERE id = ?`, threadID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading turn count: %w", err)
	}

	now := time.Now().UTC()
	for i, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (id, thread_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), threadID, count+i, string(t.Role), t.Content, formatTime(createdAt))
		if err != nil {
			return nil, fmt.Errorf("inserting turn: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE threads SET turn_count = turn_count + ?, updated_at = ? WHERE id = ?
	`, len(turns), formatTime(now), threadID)
	if err != nil {
		return nil, fmt.Errorf("updating thread: %w", err)
	}

	// Read the result before committing so a reported error always means nothing was written
	thread, err := scanThread(tx.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, threadID))
	if err != nil {
		return nil, fmt.Errorf("reading appended thread: %w", err)
	}
	thread.Turns, err = s.loadTurns(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended turns", "thread_id", threadID, "count", len(turns), "first_seq", count)
	return thread, nil
}

// ListThreads retrieves an owner's threads, newest first.
// If the limit is 0 or negative, a default limit of 50 is used.
func (s *SQLiteStore) ListThreads(ctx context.Context, ownerID string, opts ListThreadsOptions) ([]*Thread, error) {
	order := "created_at DESC, rowid DESC"
	if opts.ByActivity {
		order = "updated_at DESC, rowid DESC"
	}

	query := `SELECT ` + threadColumns + `
		FROM threads
		WHERE owner_id = ?
		ORDER BY ` + order + `
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, opts.limit())
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	rows.Close()

	if opts.WithTurns {
		for _, thread := range threads {
			thread.Turns, err = s.loadTurns(ctx, s.db, thread.ID)
			if err != nil {
				return nil, err
			}
		}
	}

	return threads, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
