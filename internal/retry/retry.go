// Package retry re-runs operations that hit transient contention, such as
// a SQLite writer finding the database locked.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// Policy describes how often and how patiently an operation is re-run.
// The zero value runs the operation once.
type Policy struct {
	Attempts int
	// Initial is the wait before the second attempt; each later wait doubles
	// up to Ceiling.
	Initial time.Duration
	Ceiling time.Duration
	// Spread randomizes each wait into [wait*(1-Spread), wait]. 0 disables it.
	Spread float64

	// Transient decides which errors are worth another attempt. Nil means
	// errors.IsRetryable.
	Transient func(error) bool
	// OnRetry, if set, observes every failed attempt that will be retried.
	OnRetry func(attempt int, wait time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// SQLite is tuned for local lock contention: a few quick attempts within
// roughly a second.
func SQLite() Policy {
	return Policy{
		Attempts: 5,
		Initial:  20 * time.Millisecond,
		Ceiling:  500 * time.Millisecond,
		Spread:   0.5,
	}
}

// Delay returns the wait after the given failed attempt (1-based), before
// randomization.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Initial <= 0 {
		return 0
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Ceiling > 0 && d >= p.Ceiling {
			return p.Ceiling
		}
	}
	if p.Ceiling > 0 && d > p.Ceiling {
		d = p.Ceiling
	}
	return d
}

func (p Policy) wait(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Spread <= 0 || d == 0 {
		return d
	}
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	return d - time.Duration(float64(d)*p.Spread*r())
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// attempts are used up, or ctx ends. It returns the last error seen.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	transient := p.Transient
	if transient == nil {
		transient = merrors.IsRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	attempts := max(p.Attempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil || !transient(err) || attempt == attempts {
			return err
		}
		d := p.wait(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return serr
		}
	}
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
