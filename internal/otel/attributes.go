package otel

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by the orchestration packages.
const (
	UserID      = attribute.Key("coach.user_id")
	Workflow    = attribute.Key("coach.workflow")
	AssistantID = attribute.Key("assistant.id")
	ThreadID    = attribute.Key("assistant.thread_id")
	RunID       = attribute.Key("assistant.run_id")
	RunStatus   = attribute.Key("assistant.run_status")
	ToolName    = attribute.Key("assistant.tool_name")
	PollAttempt = attribute.Key("assistant.poll_attempt")
)
