// Package conversation provides the question-answering session layer.
//
// # Overview
//
// Every (owner, document) pair has exactly one thread. A question against a
// document is answered from the document's full text and recorded in that
// thread as a user turn followed by an assistant turn.
//
// # Service
//
// The Service coordinates conversation operations:
//
//	svc := conversation.New(store, provider, conversation.Options{...}, logger)
//
// Key operations:
//
//   - Ask(ctx, req): answer a question and append the exchange
//   - ListThreads(ctx, ownerID, opts): the owner's threads, newest first
//   - GetThread(ctx, ownerID, id): one thread with its turns
//   - ResolveDocument / SaveDocument: owner-checked document access
//
// # Ask Lifecycle
//
//  1. Validate owner, question and document context (no side effects)
//  2. Resolve the thread (Resolver: find, create, re-fetch after a lost race)
//  3. Compose the answer (Composer: one provider call, optional timeout)
//  4. Append the question and answer together
//  5. Return the answer, thread id and new turn count
//
// Nothing is written to the thread before step 4, so a failed provider call
// leaves the thread exactly as it was. After step 1 the caller's cancellation
// is detached; a client that disconnects does not lose an answer that is
// already being produced.
//
// # Errors
//
// Failures are classified with sentinel errors (ErrValidation, ErrStorage,
// ErrProvider, ErrDuplicateRequest) and mapped to stable client codes by Code.
package conversation
