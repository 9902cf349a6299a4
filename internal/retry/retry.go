// Package retry runs an operation until it succeeds or a bounded number of
// attempts has failed, waiting with exponential backoff between attempts.
//
// Every failure is retried unless the caller opts into WithRetryIf. When all
// attempts fail the error of the last attempt is returned as is.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lestnet-sdk/internal/metrics"
	"lestnet-sdk/pkg/logger"
)

// Clock supplies the waits between attempts.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock waits on the wall clock.
func RealClock() Clock { return realClock{} }

type settings struct {
	policy  Policy
	clock   Clock
	name    string
	retryIf func(error) bool
	onRetry func(attempt int, err error, wait time.Duration)
}

// Option customises a single Do or Run call.
type Option func(*settings)

// WithPolicy overlays the non-zero fields of p on the current policy, which
// starts from DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = s.policy.Merge(p) }
}

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(s *settings) { s.policy.MaxAttempts = n }
}

// WithInitialDelay sets the wait before the second attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(s *settings) { s.policy.InitialDelay = d }
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(s *settings) { s.policy.MaxDelay = d }
}

// WithBackoffFactor sets the multiplier applied to the wait after each retry.
func WithBackoffFactor(f float64) Option {
	return func(s *settings) { s.policy.BackoffFactor = f }
}

// WithClock injects the time source, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithName labels logs and metrics for the operation.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithRetryIf restricts retries to failures for which fn returns true. Other
// failures are returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(s *settings) { s.retryIf = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(s *settings) { s.onRetry = fn }
}

// Do executes op until it succeeds or the policy is exhausted.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts ...Option) (T, error) {
	s := settings{policy: DefaultPolicy(), clock: realClock{}, name: "operation"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	p := s.policy.Normalize()
	log := logger.Named("retry")

	var (
		zero    T
		lastErr error
		delay   = p.InitialDelay
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(s.name, "success").Inc()
			return result, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			metrics.RetryAttempts.WithLabelValues(s.name, "exhausted").Inc()
			if p.MaxAttempts > 1 {
				log.Warn("retries exhausted",
					slog.String("operation", s.name),
					slog.Int("attempts", attempt),
					slog.Any("error", err))
			}
			break
		}
		if s.retryIf != nil && !s.retryIf(err) {
			metrics.RetryAttempts.WithLabelValues(s.name, "aborted").Inc()
			return zero, err
		}

		metrics.RetryAttempts.WithLabelValues(s.name, "retry").Inc()
		log.Debug("attempt failed, retrying",
			slog.String("operation", s.name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", delay),
			slog.Any("error", err))
		if s.onRetry != nil {
			s.onRetry(attempt, err, delay)
		}

		if err := wait(ctx, s.clock, delay); err != nil {
			metrics.RetryAttempts.WithLabelValues(s.name, "canceled").Inc()
			return zero, errors.Join(err, lastErr)
		}
		delay = p.next(delay)
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, op func(context.Context) error, opts ...Option) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

func wait(ctx context.Context, clock Clock, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
