package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/curator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

func transient(msg string) error {
	return &core.IoError{Path: "/tmp/x", Op: "read", Err: errors.New(msg)}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return nil
	}, fastPolicy)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestRetry_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return transient("busy")
		}
		return nil
	}, fastPolicy)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expected := transient("still busy")
	err := Retry(context.Background(), func() error {
		attempts++
		return expected
	}, fastPolicy)
	assert.Equal(t, expected, err, "should return the last error")
	assert.Equal(t, 3, attempts)
}

func TestRetry_TerminalErrorsAreNotRetried(t *testing.T) {
	terminal := []error{
		&core.ParseError{Path: "a.txt", Err: errors.New("bad")},
		&core.DimensionMismatchError{Expected: 3, Actual: 4},
		errors.New("plain"),
	}
	for _, want := range terminal {
		attempts := 0
		err := Retry(context.Background(), func() error {
			attempts++
			return want
		}, fastPolicy)
		assert.Equal(t, want, err)
		assert.Equal(t, 1, attempts, "%T should not be retried", want)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return transient("busy")
	}, Policy{MaxAttempts: 10, BaseDelay: 5 * time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, attempts, 2)
}

func TestRetry_InvalidPolicy(t *testing.T) {
	err := Retry(context.Background(), func() error { return nil }, Policy{})
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.delay(1))
	assert.Equal(t, 20*time.Millisecond, p.delay(2))
	assert.Equal(t, 40*time.Millisecond, p.delay(3))
	assert.Equal(t, 50*time.Millisecond, p.delay(4))

	unbounded := Policy{BaseDelay: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, unbounded.delay(4))
}
