// Package auth provides authentication for pdfchat-gateway.
//
// # Sign-In
//
// Users sign in with a Google ID token. GoogleVerifier checks it against the
// configured OAuth client ID; Sessions then finds or creates the matching user
// and issues an HS256 session token (JWTVerifier) signed with auth.jwt_secret.
//
// # Request Authentication
//
// HTTPAuthMiddleware accepts the session token from either
//
//   - the Authorization header: "Bearer <token>"
//   - the pdfchat_session cookie set by the sign-in endpoint
//
// and places an AuthContext in the request context:
//
//	authCtx := auth.FromContext(r.Context())
//
// The user ID in AuthContext is the only source of ownership for threads and
// documents; request bodies never carry a user ID.
package auth
