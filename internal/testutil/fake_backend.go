// Package testutil provides shared test helpers: a scripted in-memory
// assistant backend, an HTTP server speaking the Assistants wire format on
// top of it, and database helpers.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashitfit/coach/internal/assistant"
)

// Step is what one GetRun poll observes.
type Step struct {
	Status    assistant.RunStatus
	ToolCalls []assistant.ToolCall
	LastError string
	// Err makes GetRun fail instead of returning a run.
	Err error
}

// Script drives the runs created for one assistant id.
type Script struct {
	// Steps are consumed one per GetRun; the last step repeats forever.
	// An empty list means the run completes on the first poll.
	Steps []Step
	// Reply is the assistant message left on the thread once the run
	// completes. Empty means the thread has no assistant message.
	Reply string
	// CreateRunErr makes CreateRun fail.
	CreateRunErr error
	// PollDelay is slept (honoring ctx) at the start of every GetRun.
	PollDelay time.Duration
	// Panic makes CreateRun panic with this value.
	Panic any
}

type fakeRun struct {
	id       string
	threadID string
	script   *Script
	polls    int
	pending  []assistant.ToolCall
}

// Submission is one recorded SubmitToolOutputs call.
type Submission struct {
	ThreadID string
	RunID    string
	Outputs  []assistant.ToolOutput
}

// FakeBackend is a scripted, concurrency-safe assistant.Backend.
type FakeBackend struct {
	mu sync.Mutex

	// Scripts are keyed by assistant id; Default serves unknown ids.
	Scripts map[string]*Script
	Default *Script

	// CreateThreadErr makes CreateThread fail.
	CreateThreadErr error
	// CreateThreadDelay widens race windows in concurrency tests.
	CreateThreadDelay time.Duration

	seq         int
	threads     map[string][]assistant.Message
	deleted     []string
	runs        map[string]*fakeRun
	submissions []Submission
	violations  []string
	polls       int
	runRequests []assistant.RunRequest
}

// NewFakeBackend returns a backend whose runs follow def unless a
// per-assistant script is set.
func NewFakeBackend(def *Script) *FakeBackend {
	return &FakeBackend{
		Scripts: make(map[string]*Script),
		Default: def,
		threads: make(map[string][]assistant.Message),
		runs:    make(map[string]*fakeRun),
	}
}

// SetScript sets the script for assistantID.
func (f *FakeBackend) SetScript(assistantID string, s *Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Scripts[assistantID] = s
}

func (f *FakeBackend) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// CreateThread implements assistant.Backend.
func (f *FakeBackend) CreateThread(ctx context.Context) (string, error) {
	if f.CreateThreadDelay > 0 {
		select {
		case <-time.After(f.CreateThreadDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateThreadErr != nil {
		return "", f.CreateThreadErr
	}
	id := f.nextID("thread")
	f.threads[id] = nil
	return id, nil
}

// DeleteThread implements assistant.Backend.
func (f *FakeBackend) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[threadID]; !ok {
		return &assistant.Error{Op: "delete_thread", Status: 404, Err: errors.New("no such thread")}
	}
	delete(f.threads, threadID)
	f.deleted = append(f.deleted, threadID)
	return nil
}

// AppendMessage implements assistant.Backend.
func (f *FakeBackend) AppendMessage(_ context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[threadID]; !ok {
		return &assistant.Error{Op: "append_message", Status: 404, Err: errors.New("no such thread")}
	}
	f.threads[threadID] = append(f.threads[threadID], assistant.Message{
		ID:        f.nextID("msg"),
		Role:      "user",
		Content:   content,
		CreatedAt: int64(f.seq),
	})
	return nil
}

// CreateRun implements assistant.Backend.
func (f *FakeBackend) CreateRun(_ context.Context, threadID string, req assistant.RunRequest) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[threadID]; !ok {
		return nil, &assistant.Error{Op: "create_run", Status: 404, Err: errors.New("no such thread")}
	}
	s := f.Scripts[req.AssistantID]
	if s == nil {
		s = f.Default
	}
	if s == nil {
		s = &Script{}
	}
	if s.Panic != nil {
		panic(s.Panic)
	}
	if s.CreateRunErr != nil {
		return nil, s.CreateRunErr
	}
	f.runRequests = append(f.runRequests, req)
	r := &fakeRun{id: f.nextID("run"), threadID: threadID, script: s}
	f.runs[r.id] = r
	return &assistant.Run{ID: r.id, ThreadID: threadID, Status: assistant.StatusQueued}, nil
}

// GetRun implements assistant.Backend.
func (f *FakeBackend) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	f.mu.Lock()
	r, ok := f.runs[runID]
	var delay time.Duration
	if ok {
		delay = r.script.PollDelay
	}
	f.mu.Unlock()
	if !ok || r.threadID != threadID {
		return nil, &assistant.Error{Op: "get_run", Status: 404, Err: errors.New("no such run")}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	step := Step{Status: assistant.StatusCompleted}
	if n := len(r.script.Steps); n > 0 {
		i := r.polls
		if i >= n {
			i = n - 1
		}
		step = r.script.Steps[i]
	}
	r.polls++
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Status == assistant.StatusCompleted && r.script.Reply != "" {
		f.addReply(r)
	}
	run := &assistant.Run{ID: r.id, ThreadID: threadID, Status: step.Status, LastError: step.LastError}
	if step.Status == assistant.StatusRequiresAction {
		run.ToolCalls = append([]assistant.ToolCall(nil), step.ToolCalls...)
		r.pending = run.ToolCalls
	}
	return run, nil
}

func (f *FakeBackend) addReply(r *fakeRun) {
	for _, m := range f.threads[r.threadID] {
		if m.RunID == r.id {
			return
		}
	}
	f.threads[r.threadID] = append(f.threads[r.threadID], assistant.Message{
		ID:        f.nextID("msg"),
		Role:      "assistant",
		Content:   r.script.Reply,
		RunID:     r.id,
		CreatedAt: int64(f.seq),
	})
}

// SubmitToolOutputs implements assistant.Backend. A submission that does not
// answer exactly the pending tool calls is rejected and recorded as a
// violation.
func (f *FakeBackend) SubmitToolOutputs(_ context.Context, threadID, runID string, outputs []assistant.ToolOutput) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok || r.threadID != threadID {
		return nil, &assistant.Error{Op: "submit_tool_outputs", Status: 404, Err: errors.New("no such run")}
	}
	f.submissions = append(f.submissions, Submission{
		ThreadID: threadID,
		RunID:    runID,
		Outputs:  append([]assistant.ToolOutput(nil), outputs...),
	})

	want := make([]string, 0, len(r.pending))
	for _, c := range r.pending {
		want = append(want, c.ID)
	}
	got := make([]string, 0, len(outputs))
	for _, o := range outputs {
		got = append(got, o.ToolCallID)
	}
	sort.Strings(want)
	sort.Strings(got)
	if strings.Join(want, ",") != strings.Join(got, ",") {
		v := fmt.Sprintf("run %s: submitted [%s], pending [%s]", runID, strings.Join(got, ","), strings.Join(want, ","))
		f.violations = append(f.violations, v)
		return nil, &assistant.Error{Op: "submit_tool_outputs", Status: 400, Err: errors.New(v)}
	}
	r.pending = nil
	return &assistant.Run{ID: runID, ThreadID: threadID, Status: assistant.StatusQueued}, nil
}

// LatestAssistantMessage implements assistant.Backend.
func (f *FakeBackend) LatestAssistantMessage(_ context.Context, threadID, runID string) (*assistant.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.threads[threadID]
	if !ok {
		return nil, &assistant.Error{Op: "list_messages", Status: 404, Err: errors.New("no such thread")}
	}
	var fallback *assistant.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "assistant" {
			continue
		}
		if runID == "" || m.RunID == runID {
			return &m, nil
		}
		if fallback == nil {
			fallback = &m
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, assistant.ErrNoAssistantMessage
}

// Polls returns the total number of GetRun calls.
func (f *FakeBackend) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Submissions returns every recorded tool-output submission.
func (f *FakeBackend) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

// Violations returns rejected partial or mismatched submissions.
func (f *FakeBackend) Violations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.violations...)
}

// Threads returns the ids of live threads, sorted.
func (f *FakeBackend) Threads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.threads))
	for id := range f.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deleted returns deleted thread ids in deletion order.
func (f *FakeBackend) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// Messages returns a copy of the thread's messages, oldest first.
func (f *FakeBackend) Messages(threadID string) []assistant.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.Message(nil), f.threads[threadID]...)
}

// RunRequests returns every accepted CreateRun request.
func (f *FakeBackend) RunRequests() []assistant.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.RunRequest(nil), f.runRequests...)
}
