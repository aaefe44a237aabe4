package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cv-screener/internal/contextutil"
)

// RetryPolicy bounds provider retries. MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// OnRetry is called before each wait; op names the provider call.
	OnRetry func(op string, err error, wait time.Duration)
}

// DefaultRetryPolicy returns a policy with maxAttempts attempts and short exponential waits.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     4 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	// The attempt count is the only stop condition besides ctx.
	eb.MaxElapsedTime = 0

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Retry runs fn until it succeeds, fails permanently or the policy is exhausted.
// Only temporary ProviderErrors are retried.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	logger := contextutil.LoggerFromContext(ctx)

	operation := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !IsTemporary(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "provider call failed, retrying", "op", op, "error", err, "wait", wait)
		if p.OnRetry != nil {
			p.OnRetry(op, err, wait)
		}
	}

	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}

// RetryingEmbedder wraps an Embedder with a RetryPolicy.
type RetryingEmbedder struct {
	Embedder Embedder
	Policy   RetryPolicy
}

func (r *RetryingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return Retry(ctx, r.Policy, "embed", func(ctx context.Context) ([][]float32, error) {
		return r.Embedder.EmbedTexts(ctx, texts)
	})
}

// RetryingGenerator wraps a Generator with a RetryPolicy.
type RetryingGenerator struct {
	Generator Generator
	Policy    RetryPolicy
}

func (r *RetryingGenerator) ChatWithMessages(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	return Retry(ctx, r.Policy, "chat", func(ctx context.Context) (string, error) {
		return r.Generator.ChatWithMessages(ctx, messages, params)
	})
}
