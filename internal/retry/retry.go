// Package retry holds the single backoff policy used for transient I/O.
// Exponential with full jitter: d(n) = min(cap, base * 2^n) * rand(0.5, 1.0).
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/akilada/openlews/internal/errs"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Cap         time.Duration
	Retryable   func(error) bool

	// Sleep is swapped out in tests. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a uniform value in [0,1). Nil uses math/rand.
	Rand func() float64
}

func Default() Policy {
	return Policy{
		MaxAttempts: 6,
		BaseDelay:   600 * time.Millisecond,
		Cap:         10 * time.Second,
		Retryable:   errs.Retryable,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 6
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 600 * time.Millisecond
	}
	if p.Cap <= 0 {
		p.Cap = 10 * time.Second
	}
	if p.Retryable == nil {
		p.Retryable = errs.Retryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// Delay computes the backoff before attempt n (0-based) retries.
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay << uint(n)
	if d > p.Cap || d <= 0 {
		d = p.Cap
	}
	jitter := 0.5 + 0.5*p.Rand()
	return time.Duration(float64(d) * jitter)
}

// Do runs fn until it succeeds, exhausts MaxAttempts, stops being retryable,
// or the context ends. The last error is returned as-is so its kind survives.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	p = p.withDefaults()

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.E(errs.KindDeadline, op, err)
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.Retryable(last) {
			return last
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if err := p.Sleep(ctx, p.Delay(attempt)); err != nil {
			return errs.E(errs.KindDeadline, op, err)
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
