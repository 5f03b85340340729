// ABOUTME: Shared fixtures for conversation tests
// ABOUTME: Runs each test against both the SQLite store and the in-memory store

package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/pdfchat-gateway/internal/provider"
	"github.com/2389/pdfchat-gateway/internal/store"
)

type testStore = ConversationStore

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn once with a SQLite store and once with a MockStore
func forEachStore(t *testing.T, fn func(t *testing.T, st testStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, createTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, store.NewMockStore()) })
}

// scriptedProvider answers with a fixed text or error and records prompts
type scriptedProvider struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
	calls   atomic.Int32
	// gate, when set, blocks each call until it is closed or ctx ends
	gate chan struct{}
}

var errProviderDown = errors.New("provider unavailable")

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (*provider.Generation, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	answer, err, gate := p.answer, p.err, p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &provider.Generation{Text: answer, Model: "scripted", InputTokens: 10, OutputTokens: 3}, nil
}

func (p *scriptedProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}
