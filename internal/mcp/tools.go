// ABOUTME: MCP tool handlers: list_threads, get_thread and ask_document
// ABOUTME: Every handler acts as the owner the tool set was built for

package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/pdfchat-gateway/internal/conversation"
	"github.com/2389/pdfchat-gateway/internal/store"
)

const previewLength = 80

type tools struct {
	conv    Conversations
	ownerID string
	logger  *slog.Logger
}

func (t *tools) register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_threads",
		Description: "List your PDF conversation threads, newest first",
	}, t.handleListThreads)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_thread",
		Description: "Get every turn of one of your PDF conversation threads",
	}, t.handleGetThread)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ask_document",
		Description: "Ask a question about an uploaded PDF; the exchange is recorded in its thread",
	}, t.handleAskDocument)
}

// ListThreadsInput is the input schema for list_threads.
type ListThreadsInput struct {
	Limit      int  `json:"limit,omitempty" jsonschema:"maximum number of threads to return (default 50)"`
	ByActivity bool `json:"by_activity,omitempty" jsonschema:"order by most recent question instead of creation time"`
}

// ThreadSummary is one row of list_threads output.
type ThreadSummary struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	TurnCount  int    `json:"turn_count"`
	Preview    string `json:"preview,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// ListThreadsOutput is the output schema for list_threads.
type ListThreadsOutput struct {
	Threads []ThreadSummary `json:"threads"`
	Count   int             `json:"count"`
}

func (t *tools) handleListThreads(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListThreadsInput,
) (*mcp.CallToolResult, ListThreadsOutput, error) {
	threads, err := t.conv.ListThreads(ctx, t.ownerID, store.ListThreadsOptions{
		Limit:      input.Limit,
		ByActivity: input.ByActivity,
		WithTurns:  true,
	})
	if err != nil {
		return nil, ListThreadsOutput{}, err
	}

	output := ListThreadsOutput{
		Threads: make([]ThreadSummary, len(threads)),
		Count:   len(threads),
	}
	for i, th := range threads {
		output.Threads[i] = ThreadSummary{
			ID:         th.ID,
			DocumentID: th.DocumentID,
			TurnCount:  th.TurnCount,
			Preview:    preview(th),
			CreatedAt:  th.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  th.UpdatedAt.Format(time.RFC3339),
		}
	}
	return nil, output, nil
}

// preview is the start of the thread's first question.
func preview(th *store.Thread) string {
	for _, turn := range th.Turns {
		if turn.Role != store.RoleUser {
			continue
		}
		r := []rune(turn.Content)
		if len(r) > previewLength {
			return string(r[:previewLength]) + "…"
		}
		return turn.Content
	}
	return ""
}

// GetThreadInput is the input schema for get_thread.
type GetThreadInput struct {
	ThreadID string `json:"thread_id" jsonschema:"id of the thread to fetch"`
}

// TurnOutput is one turn of a thread.
type TurnOutput struct {
	Seq     int    `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GetThreadOutput is the output schema for get_thread.
type GetThreadOutput struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id,omitempty"`
	TurnCount  int          `json:"turn_count"`
	Turns      []TurnOutput `json:"turns"`
}

func (t *tools) handleGetThread(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetThreadInput,
) (*mcp.CallToolResult, GetThreadOutput, error) {
	th, err := t.conv.GetThread(ctx, t.ownerID, input.ThreadID)
	if err != nil {
		return nil, GetThreadOutput{}, err
	}

	output := GetThreadOutput{
		ID:         th.ID,
		DocumentID: th.DocumentID,
		TurnCount:  th.TurnCount,
		Turns:      make([]TurnOutput, len(th.Turns)),
	}
	for i, turn := range th.Turns {
		output.Turns[i] = TurnOutput{Seq: turn.Seq, Role: string(turn.Role), Content: turn.Content}
	}
	return nil, output, nil
}

// AskDocumentInput is the input schema for ask_document.
type AskDocumentInput struct {
	DocumentID   string `json:"document_id,omitempty" jsonschema:"id of an uploaded PDF"`
	DocumentText string `json:"document_text,omitempty" jsonschema:"document text to ask about when no document_id is given"`
	Question     string `json:"question" jsonschema:"the question to ask"`
	RequestID    string `json:"request_id,omitempty" jsonschema:"client token; a repeated token within a few minutes is rejected"`
}

// AskDocumentOutput is the output schema for ask_document.
type AskDocumentOutput struct {
	Answer    string `json:"answer"`
	ThreadID  string `json:"thread_id"`
	TurnCount int    `json:"turn_count"`
}

func (t *tools) handleAskDocument(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskDocumentInput,
) (*mcp.CallToolResult, AskDocumentOutput, error) {
	res, err := t.conv.Ask(ctx, &conversation.AskRequest{
		OwnerID:      t.ownerID,
		DocumentID:   input.DocumentID,
		DocumentText: input.DocumentText,
		Question:     input.Question,
		RequestID:    input.RequestID,
	})
	if err != nil {
		t.logger.Debug("ask_document failed", "owner_id", t.ownerID, "code", conversation.Code(err), "error", err)
		return nil, AskDocumentOutput{}, err
	}
	return nil, AskDocumentOutput{
		Answer:    res.Answer,
		ThreadID:  res.ThreadID,
		TurnCount: res.TurnCount,
	}, nil
}
