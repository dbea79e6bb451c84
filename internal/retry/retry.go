// Package retry runs operations against external systems with bounded,
// exponentially backed-off retries.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/utils"
)

const (
	defaultAttempts       = 3
	defaultBase           = 2 * time.Second
	defaultCap            = 10 * time.Second
	defaultAttemptTimeout = 10 * time.Second
	defaultMaxRetryAfter  = time.Minute
)

// wait is swapped in tests.
var wait = utils.WaitFor

// Classified is implemented by errors that know whether retrying helps.
type Classified interface {
	IsRetryable() bool
	RetryAfterHint() time.Duration
}

type Policy struct {
	Attempts       int
	Base           time.Duration
	Cap            time.Duration
	AttemptTimeout time.Duration
	// MaxRetryAfter bounds how long a server-provided retry-after hint may
	// make us wait. Longer hints stop retrying.
	MaxRetryAfter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:       defaultAttempts,
		Base:           defaultBase,
		Cap:            defaultCap,
		AttemptTimeout: defaultAttemptTimeout,
		MaxRetryAfter:  defaultMaxRetryAfter,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = d.MaxRetryAfter
	}
	return p
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. Each attempt gets its own timeout derived from ctx.
func Do(ctx context.Context, p Policy, logger *zap.Logger, name string, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, logger, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, logger *zap.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		result, err := op(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}

		// The caller gave up; nothing to retry for.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		var c Classified
		if !errors.As(err, &c) || !c.IsRetryable() {
			return zero, err
		}

		if attempt+1 >= p.Attempts {
			logger.Warn("retry budget exhausted",
				zap.String("operation", name),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return zero, err
		}

		delay := p.Backoff(attempt)
		if hint := c.RetryAfterHint(); hint > 0 {
			if hint > p.MaxRetryAfter {
				logger.Warn("retry-after hint too long, giving up",
					zap.String("operation", name),
					zap.Duration("retry_after", hint),
					zap.Error(err),
				)
				return zero, err
			}
			delay = hint
		}

		logger.Warn("transient failure, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		if err := wait(ctx, delay); err != nil {
			return zero, err
		}
	}
}
