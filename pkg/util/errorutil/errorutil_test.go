package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, ToDomainError(nil))
	})

	t.Run("domain error passes through wrapping", func(t *testing.T) {
		original := NewAlreadyExists("User is already an admin", nil)
		got := ToDomainError(fmt.Errorf("grant: %w", original))
		require.NotNil(t, got)
		assert.Equal(t, CodeAlreadyExists, got.Code)
		assert.Equal(t, http.StatusConflict, got.HTTPStatus)
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		got := ToDomainError(pgx.ErrNoRows)
		assert.Equal(t, CodeNotFound, got.Code)
	})

	t.Run("deadline maps to remote unavailable", func(t *testing.T) {
		got := ToDomainError(context.DeadlineExceeded)
		assert.Equal(t, CodeRemoteUnavailable, got.Code)
		assert.Equal(t, "remote call timed out", got.Message)
	})

	t.Run("anything else is internal", func(t *testing.T) {
		got := ToDomainError(errors.New("boom"))
		assert.Equal(t, CodeInternal, got.Code)
		assert.Equal(t, "internal server error", got.Message)
	})
}

func TestRemoteUnavailablePassesMessageThrough(t *testing.T) {
	err := NewRemoteUnavailable(errors.New("rate limit exceeded"))
	assert.True(t, HasCode(err, CodeRemoteUnavailable))
	assert.Equal(t, "rate limit exceeded", ToDomainError(err).Message)
}

func TestHasCodeKeepsCauseReachable(t *testing.T) {
	cause := errors.New("not an admin")
	err := NewAuthorizationDenied("not authorized", cause)

	assert.True(t, HasCode(err, CodeAuthorizationDenied))
	assert.False(t, HasCode(err, CodeCredentialInvalid))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "not authorized: not an admin", err.Error())
}
