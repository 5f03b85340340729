// ABOUTME: Gemini provider backed by the Google Gen AI client
// ABOUTME: Sends a single user-role content part and concatenates the first candidate's text

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string
	// Model without the "models/" prefix. Defaults to DefaultModel.
	Model string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Gemini implements Provider using the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		logger: logger.With("component", "gemini"),
	}, nil
}

// Name returns the provider name used in logs and metrics.
func (g *Gemini) Name() string {
	return "gemini"
}

// Generate sends prompt as a single user turn.
func (g *Gemini) Generate(ctx context.Context, prompt string) (*Generation, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		if IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyAnswer
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, ErrEmptyAnswer
	}

	gen := &Generation{
		Text:  sb.String(),
		Model: g.model,
	}
	if resp.ModelVersion != "" {
		gen.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		gen.InputTokens = int64(u.PromptTokenCount)
		gen.OutputTokens = int64(u.CandidatesTokenCount)
	}

	g.logger.Debug("gemini answered",
		"model", gen.Model,
		"finish_reason", resp.Candidates[0].FinishReason,
		"input_tokens", gen.InputTokens,
		"output_tokens", gen.OutputTokens,
	)
	return gen, nil
}
