package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		err := NotFound("approval_document", "doc-1")
		assert.Equal(t, ErrCodeNotFound, CodeOf(err))
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("loading document: %w", Forbidden("not your line"))
		assert.Equal(t, ErrCodeForbidden, CodeOf(err))
	})

	t.Run("uncoded defaults to internal", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(ErrCodeAlreadyDecided, "document is already %s", "approved")
	assert.True(t, errors.Is(err, New(ErrCodeAlreadyDecided, "")))
	assert.False(t, errors.Is(err, New(ErrCodeNotCurrentLine, "")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, ErrCodeInternal, "failed to load approval lines")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to load approval lines")
	assert.Contains(t, err.Error(), "connection reset")
}
