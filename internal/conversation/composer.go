// ABOUTME: Builds the grounded prompt and makes the single provider call per question
// ABOUTME: The prompt is deterministic; the answer is returned exactly as the provider produced it

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/pdfchat-gateway/internal/metrics"
	"github.com/2389/pdfchat-gateway/internal/provider"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// AnswerProvider is what the composer needs from a provider backend.
type AnswerProvider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*provider.Generation, error)
}

// ComposerOptions tunes prompt construction and the provider call.
type ComposerOptions struct {
	// Timeout bounds the provider call. Zero means no bound beyond the caller's context.
	Timeout time.Duration
	// HistoryTurns is how many of the most recent turns are folded into the prompt.
	HistoryTurns int
}

// Composer turns a document and a question into an answer.
type Composer struct {
	provider AnswerProvider
	opts     ComposerOptions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewComposer creates a Composer. m may be nil.
func NewComposer(p AnswerProvider, opts ComposerOptions, m *metrics.Metrics, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		provider: p,
		opts:     opts,
		metrics:  m,
		logger:   logger.With("component", "composer"),
	}
}

// BuildPrompt renders the provider prompt. history is folded in only when
// non-empty; with no history the output is the plain two-slot prompt.
func BuildPrompt(documentText, question string, history []store.Turn) string {
	var sb strings.Builder
	sb.WriteString("PDF Content: ")
	sb.WriteString(documentText)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, turn := range history {
			switch turn.Role {
			case store.RoleUser:
				sb.WriteString("User: ")
			case store.RoleAssistant:
				sb.WriteString("Assistant: ")
			}
			sb.WriteString(turn.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\nAnswer concisely.")
	return sb.String()
}

// recentHistory returns the last n turns, never splitting a question from its answer.
func recentHistory(turns []store.Turn, n int) []store.Turn {
	if n <= 0 || len(turns) == 0 {
		return nil
	}
	if n%2 != 0 {
		n++
	}
	if n >= len(turns) {
		return turns
	}
	return turns[len(turns)-n:]
}

// Compose validates its inputs, calls the provider once and returns the generation.
// history is the thread's existing turns; how much of it is used depends on HistoryTurns.
func (c *Composer) Compose(ctx context.Context, doc store.DocumentContext, question string, history []store.Turn) (*provider.Generation, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrValidation)
	}
	if strings.TrimSpace(doc.FullText) == "" {
		return nil, fmt.Errorf("%w: document text is empty", ErrValidation)
	}

	prompt := BuildPrompt(doc.FullText, question, recentHistory(history, c.opts.HistoryTurns))

	callCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	gen, err := c.provider.Generate(callCtx, prompt)
	elapsed := time.Since(start)

	if err == nil && (gen == nil || gen.Text == "") {
		err = provider.ErrEmptyAnswer
	}
	if err != nil {
		c.metrics.RecordProviderCall(c.provider.Name(), "error", elapsed)
		c.logger.Warn("provider call failed",
			"provider", c.provider.Name(),
			"duration", elapsed,
			"prompt_bytes", len(prompt),
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	c.metrics.RecordProviderCall(c.provider.Name(), "ok", elapsed)
	c.metrics.RecordProviderTokens(gen.InputTokens, gen.OutputTokens)
	c.logger.Debug("provider answered",
		"provider", c.provider.Name(),
		"duration", elapsed,
		"prompt_bytes", len(prompt),
		"answer_bytes", len(gen.Text))
	return gen, nil
}
