package session

import (
	"context"
	"time"

	"dailytask/pkg/logx"
)

// Policy bounds the retry protocol around one domain operation: fixed delay
// between attempts, retry only on the recoverable signals (see Retryable).
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy matches the portal contract: stop after 3 attempts, one
// second apart.
var DefaultPolicy = Policy{Attempts: 3, Delay: time.Second}

// The zero value means "use the defaults", delay included. Callers that
// want retries without the pause must say so with an explicit zero-delay
// policy.
func (p Policy) withDefaults() Policy {
	if p == (Policy{}) {
		return DefaultPolicy
	}
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Do runs op under the bounded retry protocol. Unauthorized and timeout
// failures are retried up to the attempt budget; any other error propagates
// immediately. Exhausting the budget propagates the last error.
func Do[T any](ctx context.Context, p Policy, log logx.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !Retryable(err) {
			return zero, err
		}
		if attempt == p.Attempts {
			break
		}
		log.Debug("operation retrying",
			logx.String("op", name),
			logx.Int("attempt", attempt),
			logx.Int("budget", p.Attempts),
			logx.Err(err))
		if p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			}
		}
	}
	log.Warn("operation failed after retries",
		logx.String("op", name),
		logx.Int("attempts", p.Attempts),
		logx.Err(lastErr))
	return zero, lastErr
}
