package resilience

import "context"

// Guard combines a breaker and a retry policy for one upstream.
type Guard struct {
	Breaker *Breaker
	Retry   RetryConfig
}

// NewGuard creates a Guard for the named upstream.
func NewGuard(name string, breaker BreakerConfig, retry RetryConfig) *Guard {
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(name)
	}
	return &Guard{Breaker: NewBreaker(name, breaker), Retry: retry}
}

// Call runs fn with retries. Each attempt passes through the breaker, so an
// upstream that trips mid-retry stops the loop with ErrBreakerOpen.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoVal(ctx, g.Retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := g.Breaker.Allow(); err != nil {
			return zero, err
		}
		val, err := fn(ctx)
		g.Breaker.Record(err)
		return val, err
	})
}
