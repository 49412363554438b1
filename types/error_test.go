package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrUpstreamError, "provider unreachable")
	assert.Equal(t, "[UPSTREAM_ERROR] provider unreachable", err.Error())

	cause := errors.New("connection refused")
	err = err.WithCause(cause)
	assert.Equal(t, "[UPSTREAM_ERROR] provider unreachable: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrGeneration, "boom").
		WithRetryable(true).
		WithProvider("openai")

	assert.True(t, err.Retryable)
	assert.Equal(t, "openai", err.Provider)
	assert.Equal(t, ErrGeneration, GetErrorCode(err))
}

func TestGetErrorCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}
