package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParallel_PartialFailure(t *testing.T) {
	c := NewCoordinator(time.Second)
	var finished atomic.Int32

	res := c.RunParallel(context.Background(), []string{"a", "b", "c"}, func(key string) BranchFunc {
		return func(ctx context.Context) (any, error) {
			defer finished.Add(1)
			switch key {
			case "a":
				time.Sleep(20 * time.Millisecond)
				return "payload-a", nil
			case "b":
				return nil, errors.New("nutrition assistant failed")
			default:
				return "payload-c", nil
			}
		}
	})

	assert.Equal(t, int32(3), finished.Load())
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 3, res.TotalCount)

	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Outcomes[0].WorkflowKey, res.Outcomes[1].WorkflowKey, res.Outcomes[2].WorkflowKey})
	assert.Equal(t, "payload-a", res.Outcomes[0].Payload)
	assert.Equal(t, OutcomeFailed, res.Outcomes[1].Status)
	assert.Equal(t, "nutrition assistant failed", res.Outcomes[1].Error)
	assert.Equal(t, "payload-c", res.Outcomes[2].Payload)

	succeeded := res.Succeeded()
	require.Len(t, succeeded, 2)
	assert.Equal(t, "a", succeeded[0].WorkflowKey)
	assert.Equal(t, "c", succeeded[1].WorkflowKey)
	require.Len(t, res.Failed(), 1)
}

func TestRunParallel_FailureDoesNotCancelSiblings(t *testing.T) {
	c := NewCoordinator(time.Second)
	res := c.RunParallel(context.Background(), []string{"fast-fail", "slow"}, func(key string) BranchFunc {
		return func(ctx context.Context) (any, error) {
			if key == "fast-fail" {
				return nil, errors.New("boom")
			}
			select {
			case <-time.After(50 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	})
	o, ok := res.Outcome("slow")
	require.True(t, ok)
	assert.Equal(t, OutcomeSucceeded, o.Status)
}

func TestRunParallel_BranchesRunConcurrently(t *testing.T) {
	c := NewCoordinator(time.Second)
	var inFlight, peak atomic.Int32
	c.RunParallel(context.Background(), []string{"a", "b", "c"}, func(string) BranchFunc {
		return func(context.Context) (any, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		}
	})
	assert.Equal(t, int32(3), peak.Load())
}

func TestRunParallel_OwnTimeoutPerBranch(t *testing.T) {
	c := NewCoordinator(30 * time.Millisecond)
	res := c.RunParallel(context.Background(), []string{"hang", "quick"}, func(key string) BranchFunc {
		return func(ctx context.Context) (any, error) {
			if key == "quick" {
				return 1, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
	})
	hang, _ := res.Outcome("hang")
	assert.Equal(t, OutcomeFailed, hang.Status)
	assert.ErrorIs(t, hang.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, res.SuccessCount)
}

func TestRunParallel_PanicAndMissingBranch(t *testing.T) {
	c := NewCoordinator(time.Second)
	res := c.RunParallel(context.Background(), []string{"panics", "unknown", "ok"}, func(key string) BranchFunc {
		switch key {
		case "panics":
			return func(context.Context) (any, error) { panic("nil map") }
		case "ok":
			return func(context.Context) (any, error) { return "fine", nil }
		}
		return nil
	})
	assert.Equal(t, 1, res.SuccessCount)
	p, _ := res.Outcome("panics")
	assert.Equal(t, OutcomeFailed, p.Status)
	assert.Contains(t, p.Error, "panicked")
	u, _ := res.Outcome("unknown")
	assert.Equal(t, OutcomeFailed, u.Status)
}

func TestFanoutResult_JSONShape(t *testing.T) {
	res := &FanoutResult{
		Outcomes: []FanoutOutcome{
			{WorkflowKey: "workout", Status: OutcomeSucceeded, Payload: map[string]string{"id": "w1"}},
			{WorkflowKey: "nutrition", Status: OutcomeFailed, Error: "timeout"},
		},
		SuccessCount: 1,
		TotalCount:   2,
	}
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"succeeded": [{"workflow_key":"workout","status":"succeeded","payload":{"id":"w1"}}],
		"failed": [{"workflow_key":"nutrition","status":"failed","error":"timeout"}],
		"success_count": 1,
		"total_count": 2
	}`, string(b))

	empty, err := json.Marshal(&FanoutResult{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"succeeded":[],"failed":[],"success_count":0,"total_count":0}`, string(empty))
}
