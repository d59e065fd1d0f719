// Package provider builds the Rate-Limited Client (C1): a generic decorator
// that wraps a metadata or analysis provider call with a token bucket, retry
// with provider-supplied retry-after hints, and a circuit breaker, in that
// order, matching the teacher's pkg/resilience + pkg/fn composition idiom.
package provider

import (
	"context"
	"time"

	"github.com/arxivgraph/corpusd/pkg/fn"
	"github.com/arxivgraph/corpusd/pkg/resilience"
)

// Config holds the rate/retry/breaker policy for one provider instance.
type Config struct {
	Limiter resilience.LimiterOpts
	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
	// MaxWait bounds how long LimiterStageWait will wait for a token before
	// giving up; zero means wait indefinitely (bounded only by ctx).
	MaxWait time.Duration
}

// DefaultMetadataConfig matches spec.md's example metadata rate (10/sec).
var DefaultMetadataConfig = Config{
	Limiter: resilience.LimiterOpts{Rate: 10, Burst: 10},
	Retry:   fn.DefaultRetry,
	Breaker: resilience.DefaultBreakerOpts,
}

// DefaultAnalysisConfig matches spec.md's example analysis rate (60/min).
var DefaultAnalysisConfig = Config{
	Limiter: resilience.LimiterOpts{Rate: 1, Burst: 5},
	Retry:   fn.DefaultRetry,
	Breaker: resilience.DefaultBreakerOpts,
}

// RateLimited wraps a single provider operation (In -> Out) with the
// rate/retry/breaker stack C1 requires. The stage order is innermost-first:
// call, then breaker-protected, then retried (honoring RetryAfter hints),
// then rate-limited.
func RateLimited[In, Out any](cfg Config, limiter *resilience.Limiter, breaker *resilience.Breaker, call fn.Stage[In, Out]) fn.Stage[In, Out] {
	protected := resilience.BreakerStage(breaker, call)
	retried := fn.RetryStageWithHint(cfg.Retry, protected)
	if cfg.MaxWait <= 0 {
		return resilience.LimiterStageWait(limiter, retried)
	}
	return func(ctx context.Context, in In) fn.Result[Out] {
		wctx, cancel := context.WithTimeout(ctx, cfg.MaxWait)
		err := limiter.Wait(wctx)
		cancel()
		if err != nil {
			return fn.Err[Out](err)
		}
		return retried(ctx, in)
	}
}

// NewLimiter builds the shared *resilience.Limiter for a provider's Config.
func NewLimiter(cfg Config) *resilience.Limiter {
	return resilience.NewLimiter(cfg.Limiter)
}

// NewBreaker builds the shared *resilience.Breaker for a provider's Config.
func NewBreaker(cfg Config) *resilience.Breaker {
	return resilience.NewBreaker(cfg.Breaker)
}

// Call is a convenience wrapper for one-off, non-Stage call sites (used by
// MetadataClient and AnalysisClient, whose methods invoke one operation per
// call rather than composing them into a larger fn.Pipeline).
func Call[In, Out any](ctx context.Context, cfg Config, limiter *resilience.Limiter, breaker *resilience.Breaker, in In, f func(context.Context, In) (Out, error)) (Out, error) {
	stage := RateLimited(cfg, limiter, breaker, func(ctx context.Context, in In) fn.Result[Out] {
		return fn.FromPair(f(ctx, in))
	})
	return stage(ctx, in).Unwrap()
}
