package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrap(t *testing.T) {
	t.Run("data is returned as-is", func(t *testing.T) {
		got, err := Unwrap(OK(true), nil, "remove worktree")
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("false data is still data", func(t *testing.T) {
		got, err := Unwrap(OK(false), nil, "remove worktree")
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("error envelope", func(t *testing.T) {
		_, err := Unwrap(Failed[bool]("directory is dirty"), nil, "remove worktree")
		require.Error(t, err)
		assert.Equal(t, "remove worktree: directory is dirty", err.Error())
		assert.ErrorIs(t, err, ErrRuntimeResponse)
	})

	t.Run("structured error envelope", func(t *testing.T) {
		envelope := map[string]any{"name": "NotFound", "data": map[string]any{"message": "session missing"}}
		_, err := Unwrap(Failed[bool](envelope), nil, "send initial prompt")
		require.Error(t, err)
		assert.Equal(t, "send initial prompt: session missing", err.Error())
	})

	t.Run("missing data", func(t *testing.T) {
		_, err := Unwrap(Response[bool]{}, nil, "create worktree")
		require.Error(t, err)
		assert.Equal(t, "create worktree: response did not include data", err.Error())
		assert.ErrorIs(t, err, ErrNoResponseData)
	})

	t.Run("falsy error with data", func(t *testing.T) {
		got, err := Unwrap(Response[string]{Data: ptr("x"), Error: ""}, nil, "op")
		require.NoError(t, err)
		assert.Equal(t, "x", got)
	})

	t.Run("transport error", func(t *testing.T) {
		transport := errors.New("connection refused")
		_, err := Unwrap(Response[bool]{}, transport, "list worktrees")
		require.Error(t, err)
		assert.ErrorIs(t, err, transport)
		assert.Equal(t, "list worktrees: connection refused", err.Error())
	})
}

func TestFormatRuntimeError(t *testing.T) {
	assert.Equal(t, "boom", FormatRuntimeError(errors.New("boom")))
	assert.Equal(t, "boom", FormatRuntimeError("boom"))
	assert.Equal(t, "top", FormatRuntimeError(map[string]any{"message": "top"}))
	assert.Equal(t, "unknown runtime error", FormatRuntimeError(42))
}

func ptr[T any](v T) *T { return &v }
