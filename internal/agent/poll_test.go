package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashitfit/coach/internal/assistant"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestPoll_TimesOutAfterExactlyMaxAttempts(t *testing.T) {
	fetches := 0
	sleeps := 0
	cfg := PollConfig{
		Interval:    time.Second,
		MaxAttempts: 3,
		Sleep: func(context.Context, time.Duration) error {
			sleeps++
			return nil
		},
	}
	_, attempts, err := Poll(context.Background(), cfg,
		func(context.Context, int) (string, error) { fetches++; return "in_progress", nil },
		func(context.Context, string) (bool, error) { return false, nil },
	)
	require.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, 3, fetches)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, sleeps, "no sleep before the first fetch or after the last")
}

func TestPoll_StopsWhenDone(t *testing.T) {
	states := []string{"queued", "in_progress", "completed"}
	v, attempts, err := Poll(context.Background(), PollConfig{MaxAttempts: 10, Sleep: noSleep},
		func(_ context.Context, attempt int) (string, error) { return states[attempt-1], nil },
		func(_ context.Context, s string) (bool, error) { return s == "completed", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "completed", v)
	assert.Equal(t, 3, attempts)
}

func TestPoll_TransientFetchErrorConsumesAttempt(t *testing.T) {
	transient := &assistant.Error{Op: "get_run", Status: 503, Transient: true, Err: errors.New("unavailable")}
	fetches := 0
	_, attempts, err := Poll(context.Background(), PollConfig{MaxAttempts: 3, Sleep: noSleep},
		func(context.Context, int) (string, error) {
			fetches++
			if fetches < 3 {
				return "", transient
			}
			return "completed", nil
		},
		func(_ context.Context, s string) (bool, error) { return s == "completed", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	fetches = 0
	_, _, err = Poll(context.Background(), PollConfig{MaxAttempts: 2, Sleep: noSleep},
		func(context.Context, int) (string, error) { fetches++; return "", transient },
		func(context.Context, string) (bool, error) { return true, nil },
	)
	require.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, 2, fetches)
}

func TestPoll_PermanentFetchErrorStops(t *testing.T) {
	permanent := &assistant.Error{Op: "get_run", Status: 404, Err: errors.New("no such run")}
	fetches := 0
	_, _, err := Poll(context.Background(), PollConfig{MaxAttempts: 5, Sleep: noSleep},
		func(context.Context, int) (string, error) { fetches++; return "", permanent },
		func(context.Context, string) (bool, error) { return true, nil },
	)
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, fetches)
}

func TestPoll_StepErrorStops(t *testing.T) {
	boom := errors.New("run failed")
	_, attempts, err := Poll(context.Background(), PollConfig{MaxAttempts: 5, Sleep: noSleep},
		func(context.Context, int) (int, error) { return 1, nil },
		func(context.Context, int) (bool, error) { return false, boom },
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestPoll_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetches := 0
	_, _, err := Poll(ctx, PollConfig{Interval: time.Hour, MaxAttempts: 5},
		func(context.Context, int) (int, error) { fetches++; cancel(); return 0, nil },
		func(context.Context, int) (bool, error) { return false, nil },
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fetches)
}

func TestPoll_RejectsNonPositiveAttempts(t *testing.T) {
	_, _, err := Poll(context.Background(), PollConfig{},
		func(context.Context, int) (int, error) { return 0, nil },
		func(context.Context, int) (bool, error) { return true, nil },
	)
	assert.Error(t, err)
}
