// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests context propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithAuthAndFromContext(t *testing.T) {
	authCtx := &AuthContext{UserID: "user-1", Email: "a@example.com", Name: "Ada"}
	ctx := WithAuth(context.Background(), authCtx)

	assert.Same(t, authCtx, FromContext(ctx))
	assert.Same(t, authCtx, MustFromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Panics(t, func() { MustFromContext(context.Background()) })
}
