// ABOUTME: Google sign-in flow that finds or creates the user and issues a session token
// ABOUTME: Bridges IdentityVerifier, the user store and JWTVerifier

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/pdfchat-gateway/internal/store"
)

// DefaultSessionTTL is how long an issued session token stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Sessions signs users in with a Google ID token.
type Sessions struct {
	identity IdentityVerifier
	users    store.UserStore
	tokens   *JWTVerifier
	ttl      time.Duration
	logger   *slog.Logger
}

// NewSessions creates a sign-in flow. A non-positive ttl uses DefaultSessionTTL.
func NewSessions(identity IdentityVerifier, users store.UserStore, tokens *JWTVerifier, ttl time.Duration, logger *slog.Logger) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		identity: identity,
		users:    users,
		tokens:   tokens,
		ttl:      ttl,
		logger:   logger.With("component", "sessions"),
	}
}

// TTL returns the lifetime of issued tokens.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// SignIn verifies the ID token, creates the user on first sign-in and returns a session token.
func (s *Sessions) SignIn(ctx context.Context, idToken string) (string, *store.User, error) {
	id, err := s.identity.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", nil, err
	}

	user, err := s.users.UpsertUserByGoogleID(ctx, id.Subject, id.Name, id.Email)
	if err != nil {
		return "", nil, fmt.Errorf("finding or creating user: %w", err)
	}

	token, err := s.tokens.Generate(user.ID, s.ttl)
	if err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}

	s.logger.Info("user signed in", "user_id", user.ID, "email", user.Email)
	return token, user, nil
}
