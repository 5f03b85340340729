// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping its uniqueness and ordering rules

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// It enforces the same unique keys as the SQLite schema.
type MockStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread   // keyed by thread ID
	threadIndex map[string]string    // keyed by "ownerID:documentHash" -> thread ID
	threadOrder []string             // thread IDs in creation order
	documents   map[string]*Document // keyed by document ID
	docIndex    map[string]string    // keyed by "ownerID:hash" -> document ID
	users       map[string]*User     // keyed by user ID
	userIndex   map[string]string    // keyed by google ID -> user ID
	usage       []*ProviderUsage

	// errs injects failures per operation name ("find", "create", "append", "list", "get")
	errs map[string]error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads:     make(map[string]*Thread),
		threadIndex: make(map[string]string),
		documents:   make(map[string]*Document),
		docIndex:    make(map[string]string),
		users:       make(map[string]*User),
		userIndex:   make(map[string]string),
		errs:        make(map[string]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

func (m *MockStore) injected(op string) error {
	return m.errs[op]
}

func threadKey(ownerID, hash string) string {
	return ownerID + ":" + hash
}

// copyThread returns a deep copy so callers can't mutate stored state
func copyThread(t *Thread, withTurns bool) *Thread {
	c := *t
	c.Turns = nil
	if withTurns && len(t.Turns) > 0 {
		c.Turns = make([]Turn, len(t.Turns))
		copy(c.Turns, t.Turns)
	}
	return &c
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("create"); err != nil {
		return err
	}

	if thread.DocumentHash == "" {
		thread.DocumentHash = HashText(thread.DocumentText)
	}

	// Match SQLite UNIQUE(owner_id, document_hash)
	key := threadKey(thread.OwnerID, thread.DocumentHash)
	if _, exists := m.threadIndex[key]; exists {
		return ErrDuplicateThread
	}
	if _, exists := m.threads[thread.ID]; exists {
		return ErrDuplicateThread
	}

	thread.TurnCount = 0
	thread.Turns = nil
	t := copyThread(thread, false)
	m.threads[t.ID] = t
	m.threadIndex[key] = t.ID
	m.threadOrder = append(m.threadOrder, t.ID)
	return nil
}

// FindThread retrieves a thread by owner and exact document text.
func (m *MockStore) FindThread(ctx context.Context, ownerID string, doc DocumentContext) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected("find"); err != nil {
		return nil, err
	}

	id, ok := m.threadIndex[threadKey(ownerID, doc.Hash())]
	if !ok {
		return nil, ErrNotFound
	}
	t := m.threads[id]
	if t.DocumentText != doc.FullText {
		return nil, ErrNotFound
	}
	return copyThread(t, true), nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected("get"); err != nil {
		return nil, err
	}

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(t, true), nil
}

// AppendTurns appends a turn group atomically under the store lock.
func (m *MockStore) AppendTurns(ctx context.Context, threadID string, turns []Turn) (*Thread, error) {
	if len(turns) == 0 {
		return nil, errors.New("appending turns: empty turn group")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("append"); err != nil {
		return nil, err
	}

	t, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	for _, turn := range turns {
		if !turn.Role.Valid() {
			return nil, fmt.Errorf("appending turns: invalid role %q", turn.Role)
		}
	}
	for _, turn := range turns {
		turn.Seq = len(t.Turns)
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = now
		}
		t.Turns = append(t.Turns, turn)
	}
	t.TurnCount = len(t.Turns)
	t.UpdatedAt = now

	return copyThread(t, true), nil
}

// ListThreads returns an owner's threads, newest first.
func (m *MockStore) ListThreads(ctx context.Context, ownerID string, opts ListThreadsOptions) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected("list"); err != nil {
		return nil, err
	}

	var result []*Thread
	// Walk creation order backwards so equal timestamps still sort newest first
	for i := len(m.threadOrder) - 1; i >= 0; i-- {
		t := m.threads[m.threadOrder[i]]
		if t.OwnerID == ownerID {
			result = append(result, copyThread(t, opts.WithTurns))
		}
	}

	if opts.ByActivity {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		})
	}

	if limit := opts.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveDocument stores text for an owner, returning the existing document for identical text.
func (m *MockStore) SaveDocument(ctx context.Context, ownerID, fullText string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("save_document"); err != nil {
		return nil, err
	}

	hash := HashText(fullText)
	key := threadKey(ownerID, hash)
	if id, ok := m.docIndex[key]; ok {
		existing := *m.documents[id]
		if existing.FullText != fullText {
			return nil, ErrHashCollision
		}
		return &existing, nil
	}

	doc := &Document{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Hash:      hash,
		FullText:  fullText,
		CreatedAt: time.Now().UTC(),
	}
	m.documents[doc.ID] = doc
	m.docIndex[key] = doc.ID

	result := *doc
	return &result, nil
}

// GetDocument retrieves a document by ID.
func (m *MockStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *doc
	return &result, nil
}

// UpsertUserByGoogleID returns the user for a Google subject, creating it if needed.
func (m *MockStore) UpsertUserByGoogleID(ctx context.Context, googleID, name, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.userIndex[googleID]; ok {
		result := *m.users[id]
		return &result, nil
	}

	user := &User{
		ID:        uuid.New().String(),
		GoogleID:  googleID,
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	m.users[user.ID] = user
	m.userIndex[googleID] = user.ID

	result := *user
	return &result, nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *user
	return &result, nil
}

// SaveUsage stores a provider usage record.
func (m *MockStore) SaveUsage(ctx context.Context, usage *ProviderUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("save_usage"); err != nil {
		return err
	}
	u := *usage
	m.usage = append(m.usage, &u)
	return nil
}

// GetThreadUsage retrieves all usage records for a thread, oldest first.
func (m *MockStore) GetThreadUsage(ctx context.Context, threadID string) ([]*ProviderUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ProviderUsage
	for _, u := range m.usage {
		if u.ThreadID == threadID {
			c := *u
			result = append(result, &c)
		}
	}
	return result, nil
}

// GetUsageStats returns aggregated usage for one owner.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for _, u := range m.usage {
		if u.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !u.CreatedAt.Before(*filter.Until) {
			continue
		}
		stats.TotalInput += u.InputTokens
		stats.TotalOutput += u.OutputTokens
		stats.RequestCount++
	}
	stats.TotalTokens = stats.TotalInput + stats.TotalOutput
	return &stats, nil
}

// Ping always succeeds unless a "ping" failure is injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.injected("ping")
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
