// Package assistant is the boundary to the remote conversational-AI service:
// threads, runs, messages and tool-output submission. Everything above this
// package talks to the Backend interface; OpenAIBackend is the production
// implementation.
package assistant

import (
	"context"
	"encoding/json"
)

// RunStatus is the remote run lifecycle state.
type RunStatus string

// Run states reported by the remote service.
const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCancelled      RunStatus = "cancelled"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further transition will happen.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled, StatusIncomplete:
		return true
	}
	return false
}

// ToolCall is a pending tool invocation of a run in requires_action.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Run is the locally observed state of a remote run.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall
	// LastError is the remote failure reason for failed/expired runs.
	LastError string
}

// Message is a thread message flattened to its text.
type Message struct {
	ID        string
	Role      string
	Content   string
	RunID     string
	CreatedAt int64
}

// ToolDefinition declares a callable function to the remote assistant.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// RunRequest starts a run on a thread.
type RunRequest struct {
	AssistantID  string
	Instructions string
	Tools        []ToolDefinition
}

// Backend is the set of remote operations the runtime drives.
type Backend interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	AppendMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	// LatestAssistantMessage returns the newest assistant message on the
	// thread, preferring one produced by runID when runID is set.
	LatestAssistantMessage(ctx context.Context, threadID, runID string) (*Message, error)
}
