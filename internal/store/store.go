// ABOUTME: Store interfaces and data types for pdfchat-gateway persistence
// ABOUTME: Defines User, Document, Thread, Turn and the repository contracts over them

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when a thread already exists for the (owner, document) pair
var ErrDuplicateThread = errors.New("thread already exists")

// ErrHashCollision is returned when two different texts share a lookup hash for one owner
var ErrHashCollision = errors.New("document hash collision")

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// User is an account created on first Google sign-in
type User struct {
	ID        string
	GoogleID  string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Document is the extracted text of an uploaded PDF, owned by one user.
// Two uploads with identical text by the same owner share a Document.
type Document struct {
	ID        string
	OwnerID   string
	Hash      string
	FullText  string
	CreatedAt time.Time
}

// DocumentContext is the grounding a thread is keyed on: the owner plus the
// document text. ID is optional; identity is by content.
type DocumentContext struct {
	ID       string
	OwnerID  string
	FullText string
}

// Hash returns the lookup key for the context's text.
func (d DocumentContext) Hash() string {
	return HashText(d.FullText)
}

// Context returns the DocumentContext for a stored document.
func (d *Document) Context() DocumentContext {
	return DocumentContext{ID: d.ID, OwnerID: d.OwnerID, FullText: d.FullText}
}

// HashText returns the hex SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Turn is one message inside a thread. Seq is the 0-based position.
type Turn struct {
	Seq       int
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Thread is the conversation for one (owner, document) pair
type Thread struct {
	ID           string
	OwnerID      string
	DocumentID   string
	DocumentHash string
	DocumentText string
	TurnCount    int
	Turns        []Turn
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListThreadsOptions controls ListThreads ordering and size
type ListThreadsOptions struct {
	Limit int
	// ByActivity orders by last append instead of creation time.
	ByActivity bool
	// WithTurns loads the turn sequence of every listed thread.
	WithTurns bool
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (o ListThreadsOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultListLimit
	case o.Limit > maxListLimit:
		return maxListLimit
	default:
		return o.Limit
	}
}

// ThreadStore persists threads and their turns
type ThreadStore interface {
	// FindThread matches on owner and exact document text.
	FindThread(ctx context.Context, ownerID string, doc DocumentContext) (*Thread, error)
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	// AppendTurns appends turns as one unit and returns the updated thread.
	AppendTurns(ctx context.Context, threadID string, turns []Turn) (*Thread, error)
	ListThreads(ctx context.Context, ownerID string, opts ListThreadsOptions) ([]*Thread, error)
}

// DocumentStore persists extracted document text
type DocumentStore interface {
	// SaveDocument returns the existing document when the owner already stored the same text.
	SaveDocument(ctx context.Context, ownerID, fullText string) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
}

// UserStore persists users created by Google sign-in
type UserStore interface {
	// UpsertUserByGoogleID returns the existing user for the Google subject or creates one.
	UpsertUserByGoogleID(ctx context.Context, googleID, name, email string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
}

// ProviderUsage records the tokens one answered question consumed
type ProviderUsage struct {
	ID           string
	ThreadID     string
	OwnerID      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// UsageFilter narrows GetUsageStats to one owner and an optional time range
type UsageFilter struct {
	OwnerID string
	Since   *time.Time
	Until   *time.Time
}

// UsageStats is the aggregate of matching usage records
type UsageStats struct {
	TotalInput   int64
	TotalOutput  int64
	TotalTokens  int64
	RequestCount int64
}

// UsageStore persists provider token usage
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *ProviderUsage) error
	GetThreadUsage(ctx context.Context, threadID string) ([]*ProviderUsage, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// Store is everything the gateway needs from persistence
type Store interface {
	ThreadStore
	DocumentStore
	UserStore
	UsageStore

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
