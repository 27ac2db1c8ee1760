package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureTracker_AlertsOnceAtThreshold(t *testing.T) {
	tr := NewFailureTracker(3, time.Minute)
	assert.False(t, tr.Record("u1", "get_user_data", "x"))
	assert.False(t, tr.Record("u1", "get_user_data", "x"))
	assert.True(t, tr.Record("u1", "get_user_data", "x"))
	assert.False(t, tr.Record("u1", "get_user_data", "x"))
	assert.Equal(t, 4, tr.Count("u1"))
	assert.Equal(t, 0, tr.Count("u2"))
}

func TestFailureTracker_WindowSlides(t *testing.T) {
	tr := NewFailureTracker(2, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Record("u1", "search_memory", "x")
	now = now.Add(2 * time.Minute)
	assert.False(t, tr.Record("u1", "search_memory", "x"))
	assert.Equal(t, 1, tr.Count("u1"))
}

func TestFailureTracker_Defaults(t *testing.T) {
	tr := NewFailureTracker(0, 0)
	assert.Equal(t, 10, tr.threshold)
	assert.Equal(t, 5*time.Minute, tr.window)
}
