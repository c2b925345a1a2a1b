// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/IlyaSemenov/terneo-ha/internal/log"
	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
)

type (
	// Task represents a function to retry. It should return a boolean
	// indicating whether a retry should occur on the given error.
	Task = func(context.Context) (shouldRetry bool, err error)

	// Policy is the retry policy for task execution.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}
)

// ExponentialBackoff implements a retry policy with exponential backoff and
// optional jitter.
type ExponentialBackoff struct {
	// MaxAttempts sets the maximum number of attempts. The default value of 0
	// indicates unlimited attempts; setting this to 1 will disable retries.
	MaxAttempts uint64

	// MinInterval is the minimum interval between retries (before jitter).
	// Will be set to a default of 1/8s if unspecified.
	MinInterval time.Duration

	// MaxInterval is the maximum interval between retries (before jitter).
	// Will be set to a default of 30s if unspecified.
	MaxInterval time.Duration

	// Timeout is the total timeout for all retries.
	Timeout time.Duration

	// NoJitter removes the default jitter.
	NoJitter bool

	// Logger provides a logger which will be used to log retry attempts and
	// results.
	Logger *slog.Logger
}

// Start initiates the retry executions.
func (e *ExponentialBackoff) Start(
	ctx context.Context,
	name string,
	task Task,
) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	l := log.Wrap(e.Logger)

	for attempt := uint64(1); ; attempt++ {
		l.Log(ctx, slog.LevelInfo, "retry",
			slog.String("task", name),
			slog.Uint64("attempt", attempt),
		)

		retry, err := task(ctx)
		if err == nil {
			l.Log(ctx, slog.LevelInfo, "retry succeeded",
				slog.String("task", name),
				slog.Uint64("attempt", attempt),
			)
			return nil
		}

		interval := e.shouldRetry(ctx, attempt, retry)
		if interval == 0 {
			l.Log(ctx, slog.LevelInfo, "retry failed",
				slog.String("task", name),
				slog.Uint64("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}

		select {
		case <-wallclock.Instance.After(interval):
		case <-ctx.Done():
			l.Log(ctx, slog.LevelInfo, "retry failed",
				slog.String("task", name),
				slog.Uint64("attempt", attempt),
				slog.String("error", ctx.Err().Error()),
			)
			return ctx.Err()
		}
	}
}

// Decide if we need to continue/start retrying the target operations based on
// the retry count and other conditions.
func (e *ExponentialBackoff) shouldRetry(
	ctx context.Context,
	attempt uint64,
	retry bool,
) time.Duration {
	switch {
	case !retry,
		attempt == e.MaxAttempts,
		ctx.Err() != nil:
		return 0
	}

	minInterval := e.MinInterval
	if minInterval == 0 {
		minInterval = time.Second / 8
	}

	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}

	// Calculate exponent and clamp to max exponent.
	factor := math.Pow(2, min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !e.NoJitter {
		factor = e.jitter(factor)
	}

	return time.Duration(factor * float64(minInterval))
}

// Add random jitter to the base time to avoid synchronicity in retry attempts.
// The jitter is between 95% and 105% of the base time.
func (*ExponentialBackoff) jitter(base float64) float64 {
	// #nosec G404
	j := rand.New(rand.NewSource(wallclock.Instance.Now().UnixNano())).Float64()
	return base * (.95 + .1*j)
}
