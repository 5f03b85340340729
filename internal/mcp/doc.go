// Package mcp exposes PDF conversations to external AI clients over the
// Model Context Protocol.
//
// The gateway mounts Server.Handler at mcp.path behind the session auth
// middleware. Clients authenticate with the same bearer token as the web API:
//
//	Authorization: Bearer <session token>
//
// Tools:
//
//   - list_threads: the caller's threads, newest first, with a preview of the first question
//   - get_thread: every turn of one thread
//   - ask_document: ask about an uploaded document (by id) or inline text
//
// The transport is stateless. Each request builds a fresh tool set bound to
// the authenticated user, so a tool can only ever read or write that user's
// threads.
package mcp
