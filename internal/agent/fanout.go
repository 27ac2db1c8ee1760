package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
)

var branchesTotal = coachotel.Counter(meter, "fanout.branches.total", "Fan-out branches, by workflow and status")

// OutcomeStatus is the result of one fan-out branch.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// FanoutOutcome is what one branch produced.
type FanoutOutcome struct {
	WorkflowKey string        `json:"workflow_key"`
	Status      OutcomeStatus `json:"status"`
	Payload     any           `json:"payload,omitempty"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

// FanoutResult is every branch outcome in key order.
type FanoutResult struct {
	Outcomes     []FanoutOutcome
	SuccessCount int
	TotalCount   int
}

// Succeeded returns the successful outcomes in key order.
func (r *FanoutResult) Succeeded() []FanoutOutcome { return r.filter(OutcomeSucceeded) }

// Failed returns the failed outcomes in key order.
func (r *FanoutResult) Failed() []FanoutOutcome { return r.filter(OutcomeFailed) }

// Outcome returns the outcome for key.
func (r *FanoutResult) Outcome(key string) (FanoutOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.WorkflowKey == key {
			return o, true
		}
	}
	return FanoutOutcome{}, false
}

func (r *FanoutResult) filter(status OutcomeStatus) []FanoutOutcome {
	out := []FanoutOutcome{}
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// MarshalJSON renders {succeeded, failed, success_count, total_count}.
func (r *FanoutResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Succeeded    []FanoutOutcome `json:"succeeded"`
		Failed       []FanoutOutcome `json:"failed"`
		SuccessCount int             `json:"success_count"`
		TotalCount   int             `json:"total_count"`
	}{r.Succeeded(), r.Failed(), r.SuccessCount, r.TotalCount})
}

// BranchFunc runs one independent pipeline and returns its payload.
type BranchFunc func(ctx context.Context) (any, error)

// BranchBuilder returns the pipeline for a workflow key.
type BranchBuilder func(key string) BranchFunc

// Coordinator runs independent branches concurrently.
type Coordinator struct {
	branchTimeout time.Duration
}

// NewCoordinator creates a coordinator. Each branch gets its own
// branchTimeout; zero means branches are bounded only by the caller's ctx.
func NewCoordinator(branchTimeout time.Duration) *Coordinator {
	return &Coordinator{branchTimeout: branchTimeout}
}

type indexedOutcome struct {
	i int
	o FanoutOutcome
}

// RunParallel starts one goroutine per key and waits for all of them. A
// failing or panicking branch never cancels or blocks the others; every
// outcome is observed exactly once and reported in key order.
func (c *Coordinator) RunParallel(ctx context.Context, keys []string, build BranchBuilder) *FanoutResult {
	ctx, span := tracer.Start(ctx, "fanout.run_parallel",
		trace.WithAttributes(attribute.StringSlice("fanout.keys", keys)))
	defer span.End()

	results := make(chan indexedOutcome, len(keys))
	for i, key := range keys {
		go func() {
			results <- indexedOutcome{i: i, o: c.runBranch(ctx, key, build)}
		}()
	}

	res := &FanoutResult{Outcomes: make([]FanoutOutcome, len(keys)), TotalCount: len(keys)}
	for range keys {
		r := <-results
		res.Outcomes[r.i] = r.o
		if r.o.Status == OutcomeSucceeded {
			res.SuccessCount++
		}
	}

	span.SetAttributes(
		attribute.Int("fanout.success_count", res.SuccessCount),
		attribute.Int("fanout.total_count", res.TotalCount),
	)
	return res
}

func (c *Coordinator) runBranch(ctx context.Context, key string, build BranchBuilder) (out FanoutOutcome) {
	out.WorkflowKey = key
	if c.branchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.branchTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("workflow", key).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("fanout_branch_panicked")
			out.Status = OutcomeFailed
			out.Payload = nil
			out.Err = fmt.Errorf("branch %s panicked: %v", key, r)
			out.Error = out.Err.Error()
		}
		branchesTotal.Add(ctx, 1, metric.WithAttributes(
			coachotel.Workflow.String(key),
			attribute.String("status", string(out.Status)),
		))
	}()

	fn := build(key)
	if fn == nil {
		out.Status = OutcomeFailed
		out.Err = fmt.Errorf("no pipeline for workflow %q", key)
		out.Error = out.Err.Error()
		return out
	}

	payload, err := fn(ctx)
	if err != nil {
		log.Warn().Err(err).Str("workflow", key).Func(coachotel.LogTraceFields(ctx)).Msg("fanout_branch_failed")
		out.Status = OutcomeFailed
		out.Err = err
		out.Error = err.Error()
		return out
	}
	out.Status = OutcomeSucceeded
	out.Payload = payload
	return out
}
