package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, window time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, window)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		cb.RecordFailure("workout")
	}
	err := cb.Check("workout")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, cb.State("workout"))

	assert.NoError(t, cb.Check("nutrition"), "other workflows unaffected")
}

func TestCircuitBreaker_ClosedBeforeThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	cb.RecordFailure("workout")
	cb.RecordFailure("workout")
	assert.NoError(t, cb.Check("workout"))
	assert.Equal(t, CircuitClosed, cb.State("workout"))
}

func TestCircuitBreaker_FailuresOutsideWindowDontCount(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	cb.RecordFailure("chat")
	clock.advance(2 * time.Minute)
	cb.RecordFailure("chat")
	assert.Equal(t, CircuitClosed, cb.State("chat"))
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	cb.RecordFailure("chat")
	cb.RecordFailure("chat")
	require.Error(t, cb.Check("chat"))

	clock.advance(61 * time.Second)
	require.NoError(t, cb.Check("chat"), "first check after window is the probe")
	assert.Equal(t, CircuitHalfOpen, cb.State("chat"))
	assert.Error(t, cb.Check("chat"), "only one probe at a time")

	cb.RecordSuccess("chat")
	assert.Equal(t, CircuitClosed, cb.State("chat"))
	assert.NoError(t, cb.Check("chat"))
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	cb.RecordFailure("chat")
	cb.RecordFailure("chat")
	clock.advance(61 * time.Second)
	require.NoError(t, cb.Check("chat"))

	cb.RecordFailure("chat")
	assert.Equal(t, CircuitOpen, cb.State("chat"))
	assert.Error(t, cb.Check("chat"))
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	cb.RecordFailure("chat")
	require.Error(t, cb.Check("chat"))
	cb.Reset("chat")
	assert.NoError(t, cb.Check("chat"))
	assert.Equal(t, "closed", cb.State("chat").String())
}

func TestCircuitBreaker_ReleaseFreesHalfOpenSlot(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	cb.RecordFailure("chat")
	cb.RecordFailure("chat")
	clock.advance(61 * time.Second)
	require.NoError(t, cb.Check("chat"))
	require.Error(t, cb.Check("chat"))

	cb.Release("chat")
	assert.Equal(t, CircuitHalfOpen, cb.State("chat"))
	require.NoError(t, cb.Check("chat"), "the next caller is admitted")
	assert.Error(t, cb.Check("chat"))

	cb.Release("unknown")
	assert.Equal(t, CircuitClosed, cb.State("unknown"))
}
