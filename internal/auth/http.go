// ABOUTME: HTTP middleware for session authentication on API endpoints
// ABOUTME: Reads the JWT from the Authorization header or session cookie and adds the user to context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/pdfchat-gateway/internal/store"
)

// SessionCookieName is the cookie carrying the session token for browser clients.
const SessionCookieName = "pdfchat_session"

// UserLookup is what the middleware needs from the user store
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken returns the session token from the Authorization header,
// falling back to the session cookie when no header is sent.
func requestToken(r *http.Request) (string, string) {
	if header := r.Header.Get("Authorization"); header != "" {
		return extractBearerToken(header)
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, ""
	}
	return "", "not signed in"
}

// authenticate resolves the request's user, returning an error message on failure.
func authenticate(r *http.Request, users UserLookup, verifier TokenVerifier) (*AuthContext, string) {
	token, errMsg := requestToken(r)
	if errMsg != "" {
		return nil, errMsg
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, "session expired"
		}
		return nil, "invalid token"
	}

	user, err := users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, "user not found"
	}

	return &AuthContext{UserID: user.ID, Email: user.Email, Name: user.Name}, ""
}

// WriteUnauthorized writes a JSON 401 in the API's error shape.
func WriteUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "unauthenticated"})
}

// HTTPAuthMiddleware creates an HTTP middleware that requires a valid session.
// It looks up the user and adds AuthContext to the request context.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				WriteUnauthorized(w, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware attempts session auth but allows anonymous requests.
// Useful for endpoints that report whether the caller is signed in.
func OptionalAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
