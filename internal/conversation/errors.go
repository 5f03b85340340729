// ABOUTME: Error categories surfaced by the conversation layer
// ABOUTME: Code maps any error to the stable code used in API responses

package conversation

import (
	"errors"

	"github.com/2389/pdfchat-gateway/internal/extract"
	"github.com/2389/pdfchat-gateway/internal/store"
)

var (
	// ErrValidation marks input rejected before any side effect.
	ErrValidation = errors.New("validation error")

	// ErrStorage marks a persistence failure.
	ErrStorage = errors.New("storage error")

	// ErrProvider marks a failed or empty answer from the provider.
	ErrProvider = errors.New("provider error")

	// ErrDuplicateRequest marks a replayed request id.
	ErrDuplicateRequest = errors.New("duplicate request")
)

// Stable error codes returned to clients.
const (
	CodeValidation       = "validation_error"
	CodeStorage          = "storage_error"
	CodeProvider         = "provider_error"
	CodeExtraction       = "extraction_error"
	CodeNotFound         = "not_found"
	CodeDuplicateRequest = "duplicate_request"
	CodeInternal         = "internal_error"
)

// Code returns the client-facing code for err, or "" for nil.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrDuplicateRequest):
		return CodeDuplicateRequest
	// A storage failure may wrap the store's own not-found; it stays a storage failure
	case errors.Is(err, ErrStorage):
		return CodeStorage
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, extract.ErrExtraction):
		return CodeExtraction
	case errors.Is(err, ErrProvider):
		return CodeProvider
	default:
		return CodeInternal
	}
}
