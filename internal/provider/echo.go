// ABOUTME: Deterministic offline provider for development and tests
// ABOUTME: Answers by repeating the question found in the prompt

package provider

import (
	"context"
	"fmt"
	"strings"
)

// Echo answers without calling any backend.
type Echo struct{}

// NewEcho creates an Echo provider.
func NewEcho() *Echo {
	return &Echo{}
}

// Name returns "echo".
func (e *Echo) Name() string {
	return "echo"
}

// Generate returns the question from the prompt along with the context size.
func (e *Echo) Generate(ctx context.Context, prompt string) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	question := prompt
	if i := strings.LastIndex(prompt, "Question: "); i >= 0 {
		question = prompt[i+len("Question: "):]
		if j := strings.IndexByte(question, '\n'); j >= 0 {
			question = question[:j]
		}
	}

	return &Generation{
		Text:         fmt.Sprintf("You asked: %s (%d bytes of context)", question, len(prompt)),
		Model:        "echo",
		InputTokens:  int64(len(strings.Fields(prompt))),
		OutputTokens: int64(len(strings.Fields(question))) + 6,
	}, nil
}
