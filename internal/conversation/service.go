// ABOUTME: Conversation controller: validate, resolve thread, compose answer, append the exchange
// ABOUTME: Turns are written only after an answer exists, and always as one question/answer pair

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/pdfchat-gateway/internal/dedupe"
	"github.com/2389/pdfchat-gateway/internal/metrics"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// DefaultAppendTimeout bounds the append once the caller's cancellation is detached.
const DefaultAppendTimeout = 10 * time.Second

// usageSaveTimeout bounds the best-effort usage write.
const usageSaveTimeout = 5 * time.Second

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	store.ThreadStore
	store.DocumentStore
	store.UsageStore
}

// State is the step an Ask reached.
type State string

const (
	StateInit           State = "init"
	StateValidated      State = "validated"
	StateThreadResolved State = "thread_resolved"
	StateAnswerComposed State = "answer_composed"
	StateAppended       State = "appended"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Options configures the Service.
type Options struct {
	ProviderTimeout time.Duration
	// AppendTimeout defaults to DefaultAppendTimeout when zero.
	AppendTimeout time.Duration
	HistoryTurns  int
	// Replay rejects repeated request ids. Nil disables the check.
	Replay  *dedupe.Guard
	Metrics *metrics.Metrics
}

// Service is the entry point for asking questions about a document.
type Service struct {
	store         ConversationStore
	resolver      *Resolver
	composer      *Composer
	replay        *dedupe.Guard
	appendTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New creates a new conversation Service
func New(st ConversationStore, p AnswerProvider, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	appendTimeout := opts.AppendTimeout
	if appendTimeout <= 0 {
		appendTimeout = DefaultAppendTimeout
	}
	return &Service{
		store:    st,
		resolver: NewResolver(st, opts.Metrics, logger),
		composer: NewComposer(p, ComposerOptions{
			Timeout:      opts.ProviderTimeout,
			HistoryTurns: opts.HistoryTurns,
		}, opts.Metrics, logger),
		replay:        opts.Replay,
		appendTimeout: appendTimeout,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "conversation"),
	}
}

// AskRequest is one question about one document.
// Either DocumentID or DocumentText identifies the document; DocumentID wins when both are set.
type AskRequest struct {
	OwnerID      string
	DocumentID   string
	DocumentText string
	Question     string
	// RequestID is an optional client token for replay protection.
	RequestID string
}

// AskResult is the answer and the thread it was recorded in.
type AskResult struct {
	Answer    string
	ThreadID  string
	TurnCount int
}

// Ask answers a question and records the exchange in the owner's thread for the document.
//
// Once validation passes, the caller's cancellation is detached: the thread,
// the provider call and the append run to completion even if the client goes
// away, bounded by the provider and append timeouts.
func (s *Service) Ask(ctx context.Context, req *AskRequest) (*AskResult, error) {
	start := time.Now()
	state := StateInit
	claimed := false

	fail := func(err error) (*AskResult, error) {
		if claimed {
			s.replay.Release(req.OwnerID, req.RequestID)
		}
		code := Code(err)
		s.metrics.RecordAsk(code, string(state), time.Since(start))
		s.logger.Warn("ask failed",
			"owner_id", req.OwnerID,
			"state", state,
			"code", code,
			"error", err)
		return nil, err
	}

	// 1. Validate
	if strings.TrimSpace(req.OwnerID) == "" {
		return fail(fmt.Errorf("%w: owner is required", ErrValidation))
	}
	if strings.TrimSpace(req.Question) == "" {
		return fail(fmt.Errorf("%w: question is empty", ErrValidation))
	}
	doc, err := s.documentContext(ctx, req)
	if err != nil {
		return fail(err)
	}
	if req.RequestID != "" && s.replay != nil {
		if !s.replay.Claim(req.OwnerID, req.RequestID) {
			s.metrics.RecordReplayRejected()
			return fail(fmt.Errorf("%w: request id %q was already submitted", ErrDuplicateRequest, req.RequestID))
		}
		claimed = true
	}
	state = StateValidated

	ctx = context.WithoutCancel(ctx)

	// 2. Resolve thread
	thread, err := s.resolver.Resolve(ctx, req.OwnerID, doc)
	if err != nil {
		return fail(err)
	}
	state = StateThreadResolved

	// 3. Compose answer; nothing has been appended yet
	gen, err := s.composer.Compose(ctx, doc, req.Question, thread.Turns)
	if err != nil {
		return fail(err)
	}
	state = StateAnswerComposed

	// 4. Append question and answer as one unit
	now := time.Now().UTC()
	appendCtx, cancel := context.WithTimeout(ctx, s.appendTimeout)
	updated, err := s.store.AppendTurns(appendCtx, thread.ID, []store.Turn{
		{Role: store.RoleUser, Content: req.Question, CreatedAt: now},
		{Role: store.RoleAssistant, Content: gen.Text, CreatedAt: now},
	})
	cancel()
	if err != nil {
		return fail(fmt.Errorf("%w: appending turns: %w", ErrStorage, err))
	}
	state = StateAppended
	s.metrics.RecordTurnsAppended(2)

	s.saveUsage(&store.ProviderUsage{
		ID:           uuid.New().String(),
		ThreadID:     thread.ID,
		OwnerID:      req.OwnerID,
		Model:        gen.Model,
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		CreatedAt:    now,
	})

	// 5. Done
	state = StateDone
	s.metrics.RecordAsk("ok", string(state), time.Since(start))
	s.logger.Info("question answered",
		"owner_id", req.OwnerID,
		"thread_id", thread.ID,
		"turn_count", updated.TurnCount,
		"duration", time.Since(start))

	return &AskResult{
		Answer:    gen.Text,
		ThreadID:  thread.ID,
		TurnCount: updated.TurnCount,
	}, nil
}

// documentContext builds the grounding for a request, loading it by id when given.
func (s *Service) documentContext(ctx context.Context, req *AskRequest) (store.DocumentContext, error) {
	if req.DocumentID != "" {
		doc, err := s.ResolveDocument(ctx, req.OwnerID, req.DocumentID)
		if err != nil {
			return store.DocumentContext{}, err
		}
		return doc.Context(), nil
	}
	if strings.TrimSpace(req.DocumentText) == "" {
		return store.DocumentContext{}, fmt.Errorf("%w: document context is missing", ErrValidation)
	}
	return store.DocumentContext{OwnerID: req.OwnerID, FullText: req.DocumentText}, nil
}

// saveUsage records provider usage with its own timeout. Failure is logged
// and does not affect the already committed exchange.
func (s *Service) saveUsage(usage *store.ProviderUsage) {
	saveCtx, cancel := context.WithTimeout(context.Background(), usageSaveTimeout)
	defer cancel()

	if err := s.store.SaveUsage(saveCtx, usage); err != nil {
		s.logger.Error("failed to save usage",
			"error", err,
			"thread_id", usage.ThreadID,
			"usage_id", usage.ID)
	}
}

// ResolveDocument loads a stored document owned by ownerID.
// Another owner's document is reported as not found.
func (s *Service) ResolveDocument(ctx context.Context, ownerID, documentID string) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading document: %w", ErrStorage, err)
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return doc, nil
}

// SaveDocument stores extracted text for ownerID, returning the existing
// document when the owner already uploaded identical text.
func (s *Service) SaveDocument(ctx context.Context, ownerID, text string) (*store.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", ErrValidation)
	}
	doc, err := s.store.SaveDocument(ctx, ownerID, text)
	if err != nil {
		return nil, fmt.Errorf("%w: saving document: %w", ErrStorage, err)
	}
	return doc, nil
}

// ListThreads returns the owner's threads with their turns.
func (s *Service) ListThreads(ctx context.Context, ownerID string, opts store.ListThreadsOptions) ([]*store.Thread, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	threads, err := s.store.ListThreads(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: listing threads: %w", ErrStorage, err)
	}
	return threads, nil
}

// GetThread returns one of the owner's threads.
// Another owner's thread is reported as not found.
func (s *Service) GetThread(ctx context.Context, ownerID, threadID string) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading thread: %w", ErrStorage, err)
	}
	if thread.OwnerID != ownerID {
		return nil, fmt.Errorf("thread %s: %w", threadID, store.ErrNotFound)
	}
	return thread, nil
}

// Usage returns the owner's aggregated provider usage.
// A nil since or until leaves that end of the range open; until is exclusive.
func (s *Service) Usage(ctx context.Context, ownerID string, since, until *time.Time) (*store.UsageStats, error) {
	if since != nil && until != nil && !since.Before(*until) {
		return nil, fmt.Errorf("%w: since must be before until", ErrValidation)
	}
	stats, err := s.store.GetUsageStats(ctx, store.UsageFilter{OwnerID: ownerID, Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("%w: loading usage: %w", ErrStorage, err)
	}
	return stats, nil
}

// ThreadUsage totals the provider usage recorded against one of the owner's threads.
func (s *Service) ThreadUsage(ctx context.Context, ownerID, threadID string) (*store.UsageStats, error) {
	if _, err := s.GetThread(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	usages, err := s.store.GetThreadUsage(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading thread usage: %w", ErrStorage, err)
	}

	var stats store.UsageStats
	for _, u := range usages {
		stats.TotalInput += u.InputTokens
		stats.TotalOutput += u.OutputTokens
		stats.RequestCount++
	}
	stats.TotalTokens = stats.TotalInput + stats.TotalOutput
	return &stats, nil
}
