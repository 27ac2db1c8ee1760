package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/hashitfit/coach/internal/agent/tools"
	"github.com/hashitfit/coach/internal/artifacts"
	"github.com/hashitfit/coach/internal/assistant"
	"github.com/hashitfit/coach/internal/chatlog"
	"github.com/hashitfit/coach/internal/config"
	coachotel "github.com/hashitfit/coach/internal/otel"
	"github.com/hashitfit/coach/internal/requestctx"
	"github.com/hashitfit/coach/internal/session"
)

// MaxChatMessage bounds a chat message in runes.
const MaxChatMessage = 4000

// OnboardingKeys are the fan-out branches of Onboard, in result order.
var OnboardingKeys = []string{
	config.WorkflowWorkout,
	config.WorkflowNutrition,
	config.WorkflowRecommendations,
}

// Request is the inbound body of a generation workflow.
type Request struct {
	UserID  string          `json:"user_id"`
	Context json.RawMessage `json:"assessment_or_context,omitempty"`
}

// ChatRequest is one chat turn.
type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Generated is a persisted workflow payload.
type Generated[T any] struct {
	ArtifactID string `json:"artifact_id"`
	ThreadID   string `json:"thread_id"`
	RunID      string `json:"run_id"`
	ToolCalls  int    `json:"tool_calls"`
	Payload    T      `json:"payload"`
}

// OnboardResult aggregates the onboarding fan-out. The assessment is stored
// whatever happens to the branches.
type OnboardResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Warning      string        `json:"warning,omitempty"`
	AssessmentID string        `json:"assessment_id"`
	Fanout       *FanoutResult `json:"fanout"`
}

type workflowDef struct {
	key          string
	kind         artifacts.Kind
	schema       *Schema
	instructions string
	task         string
}

var (
	workoutDef = workflowDef{
		key:    config.WorkflowWorkout,
		kind:   artifacts.KindWorkoutPlan,
		schema: WorkoutPlanSchema,
		instructions: "You are a strength and conditioning coach. Build safe, progressive plans " +
			"that fit the user's equipment, schedule and injuries.",
		task: "Create a personalized workout plan for this user.",
	}
	nutritionDef = workflowDef{
		key:    config.WorkflowNutrition,
		kind:   artifacts.KindNutritionPlan,
		schema: NutritionPlanSchema,
		instructions: "You are a sports nutritionist. Respect allergies and dietary preferences " +
			"and keep calorie targets realistic for the user's goal.",
		task: "Create a personalized daily nutrition plan for this user.",
	}
	recommendationsDef = workflowDef{
		key:    config.WorkflowRecommendations,
		kind:   artifacts.KindRecommendations,
		schema: RecommendationsSchema,
		instructions: "You are a fitness coach reviewing a client's recent training, nutrition and " +
			"progress. Give specific, actionable recommendations.",
		task: "Review this user's recent activity and give coaching recommendations.",
	}
)

const chatInstructions = "You are a friendly fitness coach. Use the tools to look up the user's " +
	"logged data and saved memories, store durable preferences with write_memory, and answer in plain text."

// Deps are the collaborators of a Service.
type Deps struct {
	Backend    assistant.Backend
	Sessions   *session.Manager
	Dispatcher *tools.Dispatcher
	Artifacts  *artifacts.Store
	ChatLog    *chatlog.Log
	// Breaker is optional.
	Breaker *CircuitBreaker
}

// Service exposes one function per workflow to the HTTP and CLI layers.
type Service struct {
	cfg         *config.Config
	sessions    *session.Manager
	driver      *Driver
	coordinator *Coordinator
	artifacts   *artifacts.Store
	chatlog     *chatlog.Log
	breaker     *CircuitBreaker
	sleep       func(context.Context, time.Duration) error
}

// NewService wires a Service. cfg is shared read-only by every pipeline.
func NewService(cfg *config.Config, deps Deps) *Service {
	maxAttempts := max(cfg.MaxAttempts, cfg.MaxAttemptsChat)
	branchTimeout := time.Duration(maxAttempts)*cfg.PollInterval + 30*time.Second
	return &Service{
		cfg:         cfg,
		sessions:    deps.Sessions,
		driver:      NewDriver(deps.Backend, deps.Dispatcher),
		coordinator: NewCoordinator(branchTimeout),
		artifacts:   deps.Artifacts,
		chatlog:     deps.ChatLog,
		breaker:     deps.Breaker,
	}
}

// Breaker returns the service's circuit breaker, or nil.
func (s *Service) Breaker() *CircuitBreaker { return s.breaker }

// GenerateWorkout produces and stores a workout plan.
func (s *Service) GenerateWorkout(ctx context.Context, req Request) (*Generated[WorkoutPlan], error) {
	return generate[WorkoutPlan](ctx, s, workoutDef, req)
}

// GenerateNutritionPlan produces and stores a nutrition plan.
func (s *Service) GenerateNutritionPlan(ctx context.Context, req Request) (*Generated[NutritionPlan], error) {
	return generate[NutritionPlan](ctx, s, nutritionDef, req)
}

// GenerateRecommendations produces and stores coaching recommendations.
func (s *Service) GenerateRecommendations(ctx context.Context, req Request) (*Generated[Recommendations], error) {
	return generate[Recommendations](ctx, s, recommendationsDef, req)
}

// Chat sends one message on the user's chat thread and returns the reply.
// Both turns are appended to the chat log.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	msg := strings.TrimSpace(req.Message)
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return nil, validationError("chat", "user_id is required")
	case msg == "", s.chatlog.Sanitize(msg) == "":
		return nil, validationError("chat", "message is required")
	case utf8.RuneCountInString(msg) > MaxChatMessage:
		return nil, validationError("chat", "message exceeds %d characters", MaxChatMessage)
	}

	ctx, spec, err := s.prepare(ctx, config.WorkflowChat, req.UserID)
	if err != nil {
		return nil, err
	}
	spec.Message = msg
	spec.Instructions = chatInstructions

	if err := s.chatlog.Append(ctx, &chatlog.Message{
		UserID:   req.UserID,
		Role:     chatlog.RoleUser,
		Content:  msg,
		ThreadID: spec.ThreadID,
	}); err != nil {
		s.release(config.WorkflowChat)
		return nil, fmt.Errorf("logging chat message: %w", err)
	}

	res, err := s.execute(ctx, spec)
	if err != nil {
		return nil, err
	}

	reply := &ChatReply{Reply: strings.TrimSpace(res.Text), ThreadID: res.ThreadID, RunID: res.RunID}
	if err := s.chatlog.Append(ctx, &chatlog.Message{
		UserID:   req.UserID,
		Role:     chatlog.RoleAssistant,
		Content:  reply.Reply,
		ThreadID: res.ThreadID,
		RunID:    res.RunID,
	}); err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Str("run_id", res.RunID).Msg("chat_reply_not_logged")
	}
	return reply, nil
}

// Onboard stores the assessment, then generates the workout plan, nutrition
// plan and recommendations in parallel. Branch failures never undo the
// assessment or the other branches.
func (s *Service) Onboard(ctx context.Context, req Request) (*OnboardResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, validationError("onboard", "user_id is required")
	}
	if !isJSONObject(req.Context) {
		return nil, validationError("onboard", "assessment_or_context must be a non-empty JSON object")
	}

	assessmentID, err := s.artifacts.Save(ctx, artifacts.KindAssessment, req.UserID, req.Context)
	if err != nil {
		return nil, fmt.Errorf("storing assessment: %w", err)
	}
	log.Info().Str("user_id", req.UserID).Str("assessment_id", assessmentID).Msg("assessment_stored")

	fan := s.coordinator.RunParallel(ctx, OnboardingKeys, func(key string) BranchFunc {
		switch key {
		case config.WorkflowWorkout:
			return func(ctx context.Context) (any, error) { return s.GenerateWorkout(ctx, req) }
		case config.WorkflowNutrition:
			return func(ctx context.Context) (any, error) { return s.GenerateNutritionPlan(ctx, req) }
		case config.WorkflowRecommendations:
			return func(ctx context.Context) (any, error) { return s.GenerateRecommendations(ctx, req) }
		}
		return nil
	})

	res := &OnboardResult{AssessmentID: assessmentID, Fanout: fan, Success: fan.SuccessCount > 0}
	failed := make([]string, 0, len(fan.Outcomes))
	for _, o := range fan.Failed() {
		failed = append(failed, o.WorkflowKey)
	}
	switch {
	case len(failed) == 0:
		res.Message = "Assessment saved and plans generated"
	case res.Success:
		res.Message = "Assessment saved and plans partially generated"
		res.Warning = fmt.Sprintf("generation failed for %s; retry later", strings.Join(failed, ", "))
	default:
		res.Message = "Assessment saved but plan generation failed"
		res.Warning = "all plan generation failed; retry later"
	}
	log.Info().
		Str("user_id", req.UserID).
		Int("success_count", fan.SuccessCount).
		Int("total_count", fan.TotalCount).
		Func(coachotel.LogTraceFields(ctx)).
		Msg("onboarding_finished")
	return res, nil
}

func generate[T any](ctx context.Context, s *Service, def workflowDef, req Request) (*Generated[T], error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, validationError(def.key, "user_id is required")
	}
	if len(req.Context) > 0 && !json.Valid(req.Context) {
		return nil, validationError(def.key, "assessment_or_context is not valid JSON")
	}

	ctx, spec, err := s.prepare(ctx, def.key, req.UserID)
	if err != nil {
		return nil, err
	}
	spec.Message = buildMessage(def.task, req.Context)
	spec.Instructions = def.instructions
	spec.Schema = def.schema

	res, err := s.execute(ctx, spec)
	if err != nil {
		return nil, err
	}

	out := &Generated[T]{ThreadID: res.ThreadID, RunID: res.RunID, ToolCalls: res.ToolCalls}
	if err := json.Unmarshal(res.Payload, &out.Payload); err != nil {
		return nil, protocolError("decode reply", fmt.Errorf("%w: %v", ErrInvalidPayload, err), def.schema.Name())
	}
	out.ArtifactID, err = s.artifacts.Save(ctx, def.kind, req.UserID, out.Payload)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", def.kind, err)
	}
	log.Info().
		Str("workflow", def.key).
		Str("user_id", req.UserID).
		Str("artifact_id", out.ArtifactID).
		Int("tool_calls", res.ToolCalls).
		Msg("artifact_generated")
	return out, nil
}

// prepare resolves everything a run needs before the first message is
// posted: assistant id, circuit state and the user's thread.
func (s *Service) prepare(ctx context.Context, workflow, userID string) (context.Context, RunSpec, error) {
	assistantID, err := s.cfg.AssistantFor(workflow)
	if err != nil {
		return ctx, RunSpec{}, &Error{Kind: KindConfig, Op: workflow, Err: err}
	}
	if s.breaker != nil {
		if err := s.breaker.Check(workflow); err != nil {
			return ctx, RunSpec{}, remoteError(workflow, err)
		}
	}

	ctx = requestctx.WithUserID(ctx, userID)
	ctx = requestctx.WithWorkflow(ctx, workflow)

	threadID, err := s.sessions.ResolveThread(ctx, workflow, userID)
	if err != nil {
		err = remoteError("resolve thread", err)
		s.recordOutcome(workflow, err)
		return ctx, RunSpec{}, err
	}
	return ctx, RunSpec{
		Workflow:    workflow,
		ThreadID:    threadID,
		AssistantID: assistantID,
		Poll: PollConfig{
			Interval:    s.cfg.PollInterval,
			MaxAttempts: s.cfg.MaxAttemptsFor(workflow),
			Sleep:       s.sleep,
		},
	}, nil
}

func (s *Service) execute(ctx context.Context, spec RunSpec) (*Result, error) {
	res, err := s.driver.RunToCompletion(ctx, spec)
	s.recordOutcome(spec.Workflow, err)
	return res, err
}

func (s *Service) recordOutcome(workflow string, err error) {
	if s.breaker == nil {
		return
	}
	switch {
	case err == nil:
		s.breaker.RecordSuccess(workflow)
	case KindOf(err) == KindValidation, callerGone(err):
		s.breaker.Release(workflow)
	default:
		s.breaker.RecordFailure(workflow)
	}
}

func (s *Service) release(workflow string) {
	if s.breaker != nil {
		s.breaker.Release(workflow)
	}
}

func buildMessage(task string, userCtx json.RawMessage) string {
	var b strings.Builder
	b.WriteString(task)
	if isJSONObject(userCtx) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, userCtx); err == nil {
			b.WriteString("\n\nUser context:\n")
			b.Write(compact.Bytes())
		}
	}
	b.WriteString("\n\nLook up the user's logged data and saved memories with the tools before answering. ")
	b.WriteString("Reply with a single JSON object and nothing else.")
	return b.String()
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) > 0
}
