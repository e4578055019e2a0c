package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError_Format(t *testing.T) {
	err := New(ErrCodeInvalidQuery, "query text must not be empty", nil)
	assert.Equal(t, "[ERR_401_INVALID_QUERY] query text must not be empty", err.Error())
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := StageError(ErrCodeEmbeddingFailed, "embedding", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "embedding")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPipelineError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeDenseSearchFailed, "index down", nil)
	b := New(ErrCodeDenseSearchFailed, "different message", nil)
	c := New(ErrCodeSparseSearchFailed, "index down", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))

	cause := fmt.Errorf("boom")
	err := Wrap(ErrCodeInternal, cause)
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeInternal, err.Code)
	assert.ErrorIs(t, err, cause)
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeEmbeddingFailed, "x", nil)))
	assert.True(t, IsRetryable(New(ErrCodeRerankFailed, "x", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInvalidQuery, "x", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeConfigInvalid, GetCode(New(ErrCodeConfigInvalid, "x", nil)))
	assert.Equal(t, "", GetCode(fmt.Errorf("plain error")))
}
