package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeProjectNotFound, "project not found: abc", nil)

	assert.Equal(t, ErrCodeProjectNotFound, err.Code)
	assert.Equal(t, "project not found: abc", err.Message)
	assert.Equal(t, CategoryNotFound, err.Category)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Retryable)
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeQueryEmpty, CategoryValidation},
		{ErrCodeProjectNotFound, CategoryNotFound},
		{ErrCodeOutlineRequired, CategoryPrecondition},
		{ErrCodeStoreFailed, CategoryStorage},
		{ErrCodeBackendTimeout, CategoryBackend},
		{ErrCodeInternal, CategoryInternal},
		{"garbage", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, categoryFromCode(tt.code))
		})
	}
}

func TestRetryableCodes(t *testing.T) {
	assert.True(t, New(ErrCodeBackendTimeout, "timeout", nil).Retryable)
	assert.True(t, New(ErrCodeBackendUnavailable, "down", nil).Retryable)
	assert.False(t, New(ErrCodeEmbeddingFailed, "bad batch", nil).Retryable)
	assert.False(t, New(ErrCodeInvalidInput, "bad", nil).Retryable)
}

func TestFatalSeverity(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "corrupt", nil)))
	assert.True(t, IsFatal(New(ErrCodeStoreUnavailable, "gone", nil)))
	assert.False(t, IsFatal(New(ErrCodeInternal, "oops", nil)))
	assert.False(t, IsFatal(nil))
}

func TestErrorString(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query must not be empty", nil)
	assert.Equal(t, "[ERR_102_QUERY_EMPTY] query must not be empty", err.Error())
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("disk exploded")
	err := StorageError("write failed", cause)

	require.ErrorIs(t, err, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(ErrCodeChapterNotFound, "chapter not found: 3", nil)
	b := New(ErrCodeChapterNotFound, "different message", nil)
	c := New(ErrCodeProjectNotFound, "other", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWrappedChainPreservesCode(t *testing.T) {
	inner := New(ErrCodeOutlineRequired, "generate an outline first", nil)
	outer := fmt.Errorf("generate characters: %w", inner)

	var ie *InkError
	require.True(t, stderrors.As(outer, &ie))
	assert.Equal(t, ErrCodeOutlineRequired, ie.Code)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := NotFoundError(ErrCodeProjectNotFound, "project", "p-1").
		WithSuggestion("create the project first")

	assert.Equal(t, "project", err.Details["entity"])
	assert.Equal(t, "p-1", err.Details["id"])
	assert.Equal(t, "create the project first", err.Suggestion)
}

func TestGetCodeAndCategory(t *testing.T) {
	err := BackendError(ErrCodeCompletionFailed, "llm call failed", nil)
	assert.Equal(t, ErrCodeCompletionFailed, GetCode(err))
	assert.Equal(t, CategoryBackend, GetCategory(err))

	plain := stderrors.New("plain")
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeBackendTimeout, "timeout", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
