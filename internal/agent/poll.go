package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hashitfit/coach/internal/assistant"
)

// PollConfig bounds a polling loop. The wall-clock budget is roughly
// Interval × MaxAttempts.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poll calls fetch until step reports done, step fails, or MaxAttempts
// fetches have been made. Every fetch counts as an attempt, including one
// that fails with a transient error; a non-transient fetch error ends the
// loop. After MaxAttempts fetches without a terminal step the result is
// ErrRunTimeout.
func Poll[T any](
	ctx context.Context,
	cfg PollConfig,
	fetch func(ctx context.Context, attempt int) (T, error),
	step func(ctx context.Context, v T) (done bool, err error),
) (T, int, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		return zero, 0, fmt.Errorf("poll: max attempts must be positive (got %d)", cfg.MaxAttempts)
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, cfg.Interval); err != nil {
				return zero, attempt - 1, err
			}
		}

		v, err := fetch(ctx, attempt)
		if err != nil {
			if !assistant.IsTransient(err) || ctx.Err() != nil {
				return zero, attempt, err
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("poll_fetch_failed")
			continue
		}

		done, err := step(ctx, v)
		if err != nil {
			return zero, attempt, err
		}
		if done {
			return v, attempt, nil
		}
	}
	return zero, cfg.MaxAttempts, fmt.Errorf("%w (%d attempts at %s)", ErrRunTimeout, cfg.MaxAttempts, cfg.Interval)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
