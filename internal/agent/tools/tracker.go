package tools

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FailureTracker counts tool failures per user. Failures never abort a run;
// crossing the threshold inside the window only raises an operator alert.
type FailureTracker struct {
	mu        sync.Mutex
	users     map[string]*failureRecord
	threshold int
	window    time.Duration
	now       func() time.Time
}

type failureRecord struct {
	failures []time.Time
	alerted  bool
}

// NewFailureTracker creates a tracker. threshold <= 0 defaults to 10;
// window <= 0 defaults to 5 minutes.
func NewFailureTracker(threshold int, window time.Duration) *FailureTracker {
	if threshold <= 0 {
		threshold = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &FailureTracker{
		users:     make(map[string]*failureRecord),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Record notes a failed call. It returns true when the alert threshold was
// just crossed.
func (t *FailureTracker) Record(userID, toolName, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.users[userID]
	if !ok {
		rec = &failureRecord{}
		t.users[userID] = rec
	}

	now := t.now()
	rec.failures = append(filterAfter(rec.failures, now.Add(-t.window)), now)

	if len(rec.failures) >= t.threshold && !rec.alerted {
		rec.alerted = true
		log.Warn().
			Str("user_id", userID).
			Str("last_tool", toolName).
			Str("last_error", errMsg).
			Int("failure_count", len(rec.failures)).
			Dur("window", t.window).
			Msg("tool_failure_threshold_exceeded")
		return true
	}
	if len(rec.failures) < t.threshold {
		rec.alerted = false
	}
	return false
}

// Count returns the failures inside the window for userID.
func (t *FailureTracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.users[userID]
	if !ok {
		return 0
	}
	return len(filterAfter(rec.failures, t.now().Add(-t.window)))
}

func filterAfter(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
