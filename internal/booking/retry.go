package booking

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/circlein/amenity-booking/internal/logger"
)

// retryPolicy bounds how often a store transaction is re-run.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

// run calls fn until it succeeds, returns a tagged *Error, or the attempt
// budget is spent.  Any other error is treated as transient.  Sleeps grow
// exponentially from base with up to one base of random jitter so that
// racing transactions do not retry in lockstep.
func (p retryPolicy) run(ctx context.Context, op string, fn func() error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		var be *Error
		if errors.As(err, &be) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transient(ctxErr)
		}
		last = err
		if i == attempts {
			break
		}
		wait := p.backoff(i)
		logger.FromContext(ctx).Debug().Err(err).Str("op", op).Int("attempt", i).Dur("wait", wait).Msg("retrying store transaction")
		select {
		case <-ctx.Done():
			return transient(ctx.Err())
		case <-time.After(wait):
		}
	}
	logger.FromContext(ctx).Warn().Err(last).Str("op", op).Int("attempts", attempts).Msg("store transaction failed after retries")
	return transient(last)
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	d := p.base << (attempt - 1)
	return d + rand.N(p.base)
}
