package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"timeout is retryable", ErrTimeout, true},
		{"rate limit is retryable", ErrRateLimited, true},
		{"connection failure is retryable", ErrConnectionFailed, true},
		{"wrapped retryable stays retryable", fmt.Errorf("call failed: %w", ErrTimeout), true},
		{"auth failure is not retryable", ErrAuthFailed, false},
		{"missing tool is not retryable", ErrToolNotFound, false},
		{"custom error is not retryable", errors.New("boom"), false},
		{"nil is not retryable", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrToolNotFound))
	assert.True(t, IsNotFound(ErrSkillNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", ErrSkillNotFound)))
	assert.False(t, IsNotFound(ErrTimeout))
}

func TestIsStoreError(t *testing.T) {
	assert.True(t, IsStoreError(ErrStoreFull))
	assert.True(t, IsStoreError(ErrIntegrity))
	assert.True(t, IsStoreError(ErrStoreWrite))
	assert.False(t, IsStoreError(ErrInvalidPlan))
}

func TestFrameworkErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *FrameworkError
		want string
	}{
		{
			"op with id and cause",
			&FrameworkError{Op: "registry.Get", ID: "http_fetch", Err: ErrToolNotFound},
			"registry.Get [http_fetch]: tool not found",
		},
		{
			"op with cause",
			&FrameworkError{Op: "episodic.Append", Err: ErrIntegrity},
			"episodic.Append: integrity check failed",
		},
		{
			"message only",
			&FrameworkError{Kind: "planning", Message: "empty goal"},
			"empty goal",
		},
		{
			"kind fallback",
			&FrameworkError{Kind: "store"},
			"store error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestFrameworkErrorUnwrap(t *testing.T) {
	err := &FrameworkError{Op: "pool.Run", Kind: "execution", Err: ErrRateLimited}
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsRetryable(err))
}
