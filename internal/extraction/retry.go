package extraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy configures WithRetry. A zero MaxRetries disables retrying.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// Backoff returns a fresh exponential backoff for one Submit call
func (p RetryPolicy) Backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return retry.WithMaxRetries(p.MaxRetries, retry.NewExponential(base))
}

type retryingProvider struct {
	Provider
	backoff func() retry.Backoff
}

// WithRetry wraps p so that transport failures and 429/5xx responses are
// retried with the backoff returned by newBackoff. Payload errors are never
// retried since the envelope has already been received.
func WithRetry(p Provider, newBackoff func() retry.Backoff) Provider {
	return &retryingProvider{Provider: p, backoff: newBackoff}
}

func (r *retryingProvider) Submit(ctx context.Context, req Request) (Envelope, error) {
	var env Envelope
	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		var err error
		env, err = r.Provider.Submit(ctx, req)
		if err != nil && IsRetryable(err) {
			slog.Info("Retrying extraction request", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}
