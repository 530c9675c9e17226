// Package resilience wraps outbound calls with bounded retries and a
// per-operation circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/config"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Verdict says what to do with a failed attempt.
type Verdict struct {
	Retry bool
	// Trip counts the failure against the circuit breaker.
	Trip bool
}

// Classifier inspects an attempt's error.
type Classifier func(err error) Verdict

// Executor runs operations under the retry and breaker policy. It is safe
// for concurrent use; breakers are created lazily per operation name.
type Executor struct {
	policy config.Resilience
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(policy config.Resilience, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		policy:   normalize(policy),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func normalize(p config.Resilience) config.Resilience {
	if p.RetryMaxAttempts <= 0 {
		p.RetryMaxAttempts = 1
	}
	if p.RetryInitialBackoff < 0 {
		p.RetryInitialBackoff = 0
	}
	if p.RetryMaxBackoff < p.RetryInitialBackoff {
		p.RetryMaxBackoff = p.RetryInitialBackoff
	}
	if p.RetryMultiplier < 1 {
		p.RetryMultiplier = 1
	}
	if p.BreakerMinRequests == 0 {
		p.BreakerMinRequests = 10
	}
	if p.BreakerFailureRatio <= 0 || p.BreakerFailureRatio > 1 {
		p.BreakerFailureRatio = 0.5
	}
	if p.BreakerOpenTimeout <= 0 {
		p.BreakerOpenTimeout = 30 * time.Second
	}
	if p.BreakerHalfOpenMaxCalls == 0 {
		p.BreakerHalfOpenMaxCalls = 1
	}
	return p
}

// Execute runs fn until it succeeds, the classifier refuses a retry, the
// attempts run out or ctx ends.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation %q", operation)
	}
	if classify == nil {
		classify = Permanent
	}
	if !e.policy.BreakerEnabled {
		return e.retry(ctx, operation, fn, classify)
	}
	_, err := e.breaker(operation, classify).Execute(func() (any, error) {
		return nil, e.retry(ctx, operation, fn, classify)
	})
	return err
}

// Call is Execute for operations that produce a value.
func Call[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error), classify Classifier) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classify)
	return out, err
}

func (e *Executor) retry(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	backoff := e.policy.RetryInitialBackoff
	var err error
	for attempt := 1; attempt <= e.policy.RetryMaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == e.policy.RetryMaxAttempts || !classify(err).Retry {
			return err
		}

		wait := min(backoff, e.policy.RetryMaxBackoff)
		e.logger.Warn("Retrying operation.", "operation", operation, "attempt", attempt, "backoff", wait, "error", err)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
		backoff = time.Duration(float64(backoff) * e.policy.RetryMultiplier)
	}
	return err
}

func (e *Executor) breaker(operation string, classify Classifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	p := e.policy
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: p.BreakerHalfOpenMaxCalls,
		Timeout:     p.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= p.BreakerMinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= p.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).Trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("Circuit breaker changed state.", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[operation] = cb
	return cb
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Permanent never retries and counts every failure.
func Permanent(error) Verdict { return Verdict{Trip: true} }

// GRPC classifies errors from Google Cloud gRPC clients by status code.
func GRPC(err error) Verdict {
	if errors.Is(err, context.Canceled) {
		return Verdict{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Verdict{Trip: true}
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded, codes.Internal:
		return Verdict{Retry: true, Trip: true}
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition, codes.Unauthenticated:
		return Verdict{}
	}
	return Verdict{Trip: true}
}
