package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(3))

	boom := stderrors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(3))

	_ = cb.Execute(func() error { return stderrors.New("boom") })
	_ = cb.Execute(func() error { return stderrors.New("boom") })
	require.Equal(t, 2, cb.Failures())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("reranker",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond),
	)

	_ = cb.Execute(func() error { return stderrors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitExecuteWithResultFallback(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1))

	_, err := CircuitExecuteWithResult(cb,
		func() ([]float32, error) { return nil, stderrors.New("boom") },
		func() ([]float32, error) { return nil, nil },
	)
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	got, err := CircuitExecuteWithResult(cb,
		func() ([]float32, error) { return []float32{1}, nil },
		func() ([]float32, error) { return []float32{0}, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, got)
}
