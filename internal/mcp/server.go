// ABOUTME: MCP server exposing the signed-in user's PDF threads to external agents
// ABOUTME: Serves the Streamable HTTP transport with one tool set bound to each request's user

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/pdfchat-gateway/internal/auth"
	"github.com/2389/pdfchat-gateway/internal/conversation"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// Version is the MCP server version.
const Version = "0.1.0"

// ErrMissingConversations is returned when no conversation service is provided.
var ErrMissingConversations = errors.New("mcp: conversation service is required")

// Conversations is the slice of the conversation service the tools call.
type Conversations interface {
	Ask(ctx context.Context, req *conversation.AskRequest) (*conversation.AskResult, error)
	ListThreads(ctx context.Context, ownerID string, opts store.ListThreadsOptions) ([]*store.Thread, error)
	GetThread(ctx context.Context, ownerID, threadID string) (*store.Thread, error)
}

// Server builds MCP servers for authenticated HTTP requests.
type Server struct {
	conv   Conversations
	logger *slog.Logger
}

// NewServer creates a new MCP server over the conversation service.
func NewServer(conv Conversations, logger *slog.Logger) (*Server, error) {
	if conv == nil {
		return nil, ErrMissingConversations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		conv:   conv,
		logger: logger.With("component", "mcp"),
	}, nil
}

// Handler returns the Streamable HTTP handler. It must sit behind the auth
// middleware; requests without an AuthContext get no server.
//
// The handler is stateless so every request builds its tools for the user
// on that request, and a session can never outlive or switch its owner.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		ac := auth.FromContext(r.Context())
		if ac == nil {
			s.logger.Warn("mcp request without auth context")
			return nil
		}
		return s.serverFor(ac.UserID)
	}, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
}

// serverFor builds an MCP server whose tools act as ownerID.
func (s *Server) serverFor(ownerID string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "pdfchat",
		Version: Version,
	}, nil)
	t := &tools{conv: s.conv, ownerID: ownerID, logger: s.logger}
	t.register(srv)
	return srv
}
