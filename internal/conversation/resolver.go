// ABOUTME: Find-or-create of the single thread for an (owner, document) pair
// ABOUTME: Relies on the store's unique index and re-fetches the winner after a lost race

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/pdfchat-gateway/internal/metrics"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// Resolver selects or creates the thread for an owner and document.
type Resolver struct {
	store   store.ThreadStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver. m may be nil.
func NewResolver(threads store.ThreadStore, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   threads,
		metrics: m,
		logger:  logger.With("component", "resolver"),
	}
}

// Resolve returns the thread for (ownerID, doc), creating it if none exists.
// Any number of concurrent calls for one pair observe the same thread.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, doc store.DocumentContext) (*store.Thread, error) {
	thread, err := r.store.FindThread(ctx, ownerID, doc)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: finding thread: %w", ErrStorage, err)
	}

	now := time.Now().UTC()
	thread = &store.Thread{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		DocumentID:   doc.ID,
		DocumentHash: doc.Hash(),
		DocumentText: doc.FullText,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = r.store.CreateThread(ctx, thread)
	if err == nil {
		r.metrics.RecordThreadCreated()
		r.logger.Debug("thread created", "thread_id", thread.ID, "owner_id", ownerID)
		return thread, nil
	}
	if !errors.Is(err, store.ErrDuplicateThread) {
		return nil, fmt.Errorf("%w: creating thread: %w", ErrStorage, err)
	}

	// Another request created the thread between our lookup and insert
	r.metrics.RecordResolverRace()
	r.logger.Debug("thread creation hit duplicate, retrying lookup", "owner_id", ownerID)

	existing, lookupErr := r.store.FindThread(ctx, ownerID, doc)
	if lookupErr == nil {
		r.logger.Debug("found existing thread after duplicate error", "thread_id", existing.ID)
		return existing, nil
	}

	// The unique index holds a thread whose text differs from ours
	r.logger.Error("retry lookup failed after duplicate error",
		"owner_id", ownerID,
		"document_hash", thread.DocumentHash,
		"lookup_error", lookupErr)
	return nil, fmt.Errorf("%w: thread for document hash %s exists with different text: %v",
		ErrStorage, thread.DocumentHash, lookupErr)
}
