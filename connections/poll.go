package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/link-connect/api"
)

const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollAttempts = 60
)

// pollUntilReady calls fn until it returns something other than
// api.ErrNotReady. The wait between attempts is interrupted by ctx.
func pollUntilReady[T any](ctx context.Context, interval time.Duration, attempts int, fn func(context.Context) (*T, error)) (*T, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if attempts <= 0 {
		attempts = DefaultMaxPollAttempts
	}

	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}

		if !errors.Is(err, api.ErrNotReady) {
			return nil, err
		}

		if attempt >= attempts {
			return nil, fmt.Errorf("still not ready after %d attempts: %w", attempts, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
