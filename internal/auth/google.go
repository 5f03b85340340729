// ABOUTME: Google Sign-In ID token verification
// ABOUTME: Validates signature, audience and expiry via google.golang.org/api/idtoken

package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// ErrInvalidIdentity is returned when a Google ID token is rejected.
var ErrInvalidIdentity = errors.New("invalid google identity")

// Identity is the verified subject of a Google ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier checks a sign-in credential and returns who it belongs to.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (*Identity, error)
}

// GoogleVerifier verifies Google ID tokens issued for one OAuth client.
type GoogleVerifier struct {
	audience string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// NewGoogleVerifier creates a verifier for the given OAuth client ID.
func NewGoogleVerifier(clientID string) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	return &GoogleVerifier{
		audience: clientID,
		validate: idtoken.Validate,
	}, nil
}

// VerifyIDToken validates the token and extracts the subject, email and name.
func (g *GoogleVerifier) VerifyIDToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidIdentity)
	}

	payload, err := g.validate(ctx, token, g.audience)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidIdentity)
	}

	id := &Identity{Subject: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := payload.Claims["name"].(string); ok {
		id.Name = name
	}
	return id, nil
}
