// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package is interface-driven:
//
//   - ThreadStore: conversation threads and their ordered turns
//   - DocumentStore: extracted PDF text per owner
//   - UserStore: accounts created by Google sign-in
//   - Store: all of the above plus Ping and Close
//
// SQLiteStore implements Store in a single struct. MockStore is the in-memory
// equivalent used by tests; it enforces the same unique keys.
//
// # Data Models
//
//   - User: Google subject, name, email
//   - Document: owner + full text, keyed by (owner, SHA-256 of text)
//   - Thread: one per (owner, document text); carries the text by value
//   - Turn: role ("user" or "assistant"), content, position (seq)
//
// # Invariants
//
// At most one thread exists per (owner, document hash). Lookups compare the
// full document text as well as the hash, so a hash collision is never
// treated as a match.
//
// AppendTurns writes a whole group of turns in one transaction. Positions are
// assigned from the thread's turn_count inside that transaction and
// UNIQUE(thread_id, seq) rejects anything that slips past, so concurrent
// appends to the same thread are serialized and never split a group.
//
// # SQLite Configuration
//
// Connections are opened with:
//
//	_pragma=foreign_keys(1)
//	_pragma=busy_timeout(10000)
//	_txlock=immediate
//
// and the file database runs in WAL mode. ":memory:" is supported for tests
// and is pinned to a single connection.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateThread: a thread already exists for the pair
//   - ErrHashCollision: a different text already owns the lookup hash
//
// All methods accept context.Context for cancellation support.
package store
