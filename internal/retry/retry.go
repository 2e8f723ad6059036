// Package retry re-runs a failing operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy controls how often and how fast an operation is retried.
type Policy struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	Jitter          float64       `yaml:"jitter"` // ±fraction, e.g. 0.2
}

// DefaultPolicy is used for dead-letter publishes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Jitter:          0.2,
	}
}

// Validate reports invalid fields.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("maxAttempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("jitter must be in [0, 1), got %g", p.Jitter))
	}
	return errors.Join(errs...)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done. It returns the number of calls made and the
// last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return i + 1, nil
		}
		if IsPermanent(err) || i == attempts-1 {
			return i + 1, err
		}
		select {
		case <-ctx.Done():
			return i + 1, errors.Join(err, ctx.Err())
		case <-time.After(p.backoff(i)):
		}
	}
	return attempts, err
}

func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.InitialInterval) * math.Pow(2, float64(attempt))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}
