// ABOUTME: HTTP handlers for Google sign-in, session status and logout
// ABOUTME: Issues the session token as JSON and as an HttpOnly cookie

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/pdfchat-gateway/internal/auth"
	"github.com/2389/pdfchat-gateway/internal/conversation"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// GoogleSignInRequest is the JSON request body for POST /auth/google.
type GoogleSignInRequest struct {
	Token string `json:"token"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SignInResponse is the JSON response for POST /auth/google.
type SignInResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// SessionResponse is the JSON response for GET /auth/session.
type SessionResponse struct {
	LoggedIn bool          `json:"logged_in"`
	User     *UserResponse `json:"user,omitempty"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

// handleGoogleSignIn handles POST /auth/google.
func (g *Gateway) handleGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	if g.sessions == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "unavailable", "google sign-in is not configured")
		return
	}

	var req GoogleSignInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, "invalid JSON body")
		return
	}

	token, user, err := g.sessions.SignIn(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidIdentity) {
			auth.WriteUnauthorized(w, "invalid google credential")
			return
		}
		g.logger.Error("sign-in failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, conversation.CodeStorage, "sign-in is unavailable, please try again")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil || g.config.Tailscale.Funnel,
		SameSite: http.SameSiteLaxMode,
	})
	g.writeJSON(w, http.StatusOK, SignInResponse{Token: token, User: userResponse(user)})
}

// handleSession handles GET /auth/session. Anonymous callers get logged_in=false.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		g.writeJSON(w, http.StatusOK, SessionResponse{LoggedIn: false})
		return
	}
	g.writeJSON(w, http.StatusOK, SessionResponse{
		LoggedIn: true,
		User:     &UserResponse{ID: ac.UserID, Name: ac.Name, Email: ac.Email},
	})
}

// handleLogout handles POST /auth/logout by clearing the session cookie.
// Tokens are stateless, so a copied bearer token stays valid until it expires.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
