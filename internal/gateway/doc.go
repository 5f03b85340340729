// Package gateway orchestrates the pdfchat-gateway server components.
//
// # Overview
//
// New opens the SQLite store, builds the answer provider from config and
// wires the conversation service, Google sign-in, metrics and the optional
// MCP endpoint onto one HTTP server. Run serves it on a TCP address or, when
// tailscale is enabled, on a tsnet listener, and shuts down when the context
// is canceled.
//
// # HTTP API
//
// Errors are JSON: {"error": "<message>", "code": "<code>"}.
//
//   - POST /auth/google - exchange a Google ID token for a session (JSON + cookie)
//   - GET /auth/session - report whether the caller is signed in
//   - POST /auth/logout - clear the session cookie
//   - POST /api/upload - multipart "pdf" field; returns {document_id, text}
//   - POST /api/chat - ask about a document; returns {answer, thread_id, turn_count}
//   - GET /api/chat - the caller's threads with turns (?sort=created|activity&limit=N)
//   - GET /api/threads/{id} - one thread including its document text
//   - GET /api/usage - the caller's provider token totals
//   - GET /health, GET /health/ready - liveness and database readiness
//   - GET /metrics - Prometheus metrics (metrics.enabled)
//   - /mcp - MCP Streamable HTTP (mcp.enabled, authenticated)
//
// Status mapping:
//
//	validation_error   400
//	unauthenticated    401
//	not_found          404
//	duplicate_request  409
//	extraction_error   422
//	provider_error     502
//	storage_error      503
//
// Everything under /api and /mcp requires a session. The owner of every
// thread and document is taken from the session, never from the request body.
package gateway
