package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetry_RetriesTemporaryErrors(t *testing.T) {
	var calls, notified int32
	policy := fastPolicy(3)
	policy.OnRetry = func(op string, err error, wait time.Duration) {
		atomic.AddInt32(&notified, 1)
		assert.Equal(t, "chat", op)
	}

	got, err := Retry(context.Background(), policy, "chat", func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", &ProviderError{Op: "chat", StatusCode: 503, Err: errors.New("busy")}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.EqualValues(t, 3, calls)
	assert.EqualValues(t, 2, notified)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	var calls int32
	_, err := Retry(context.Background(), fastPolicy(2), "embed", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, &ProviderError{Op: "embed", Err: errors.New("connection reset")}
	})

	require.Error(t, err)
	assert.EqualValues(t, 2, calls)
	assert.True(t, IsTemporary(err))
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	var calls int32
	_, err := Retry(context.Background(), fastPolicy(5), "chat", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", &ProviderError{Op: "chat", StatusCode: 401, Err: errors.New("unauthorized")}
	})

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 401, perr.StatusCode)
	assert.EqualValues(t, 1, calls)
}

func TestRetryingGenerator(t *testing.T) {
	gen := &flakyGenerator{failures: 1}
	rg := &RetryingGenerator{Generator: gen, Policy: fastPolicy(2)}

	got, err := rg.ChatWithMessages(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatParams{})
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, 2, gen.calls)
}

type flakyGenerator struct {
	failures int
	calls    int
}

func (f *flakyGenerator) ChatWithMessages(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", &ProviderError{Op: "chat", StatusCode: 500, Err: errors.New("boom")}
	}
	return "answer", nil
}
