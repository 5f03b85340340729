// ABOUTME: Answer provider contract and constructor for the configured backend
// ABOUTME: A provider turns one prompt into one answer, with optional token usage

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-flash-latest"

var (
	// ErrEmptyAnswer is returned when the backend produced no text.
	ErrEmptyAnswer = errors.New("provider returned an empty answer")

	// ErrBlocked is returned when the backend refused the prompt.
	ErrBlocked = errors.New("provider blocked the prompt")

	// ErrRateLimited is returned when the backend rejected the call for quota reasons.
	ErrRateLimited = errors.New("provider rate limit exceeded")
)

// Generation is the result of one provider call.
type Generation struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider generates an answer for a fully composed prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*Generation, error)
}

// Config selects and configures a provider backend.
type Config struct {
	// Kind is "gemini" or "echo".
	Kind     string
	APIKey   string
	Model    string
	Endpoint string

	// RequestsPerSecond > 0 wraps the provider in a rate limiter.
	RequestsPerSecond float64
	Burst             int
}

// New builds the provider described by cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var p Provider
	switch cfg.Kind {
	case "gemini", "":
		g, err := NewGemini(ctx, GeminiConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Endpoint: cfg.Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		p = g
	case "echo":
		p = NewEcho()
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	if cfg.RequestsPerSecond > 0 {
		p = NewRateLimited(p, cfg.RequestsPerSecond, cfg.Burst)
	}
	return p, nil
}

// IsRateLimited reports whether err is a quota rejection from the backend.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests
	}
	return false
}
