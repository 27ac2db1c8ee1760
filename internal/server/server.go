package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/chatlog"
	"github.com/hashitfit/coach/internal/datasource"
	"github.com/hashitfit/coach/internal/memory"
	"github.com/hashitfit/coach/internal/otel"
	"github.com/hashitfit/coach/internal/store"
)

const defaultTimeout = 60 * time.Second

// Workflows is the orchestration surface the API exposes. *agent.Service
// implements it.
type Workflows interface {
	GenerateWorkout(ctx context.Context, req agent.Request) (*agent.Generated[agent.WorkoutPlan], error)
	GenerateNutritionPlan(ctx context.Context, req agent.Request) (*agent.Generated[agent.NutritionPlan], error)
	GenerateRecommendations(ctx context.Context, req agent.Request) (*agent.Generated[agent.Recommendations], error)
	Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatReply, error)
	Onboard(ctx context.Context, req agent.Request) (*agent.OnboardResult, error)
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	router      *chi.Mux
	workflows   Workflows
	memoryStore *memory.Store
	chatLog     *chatlog.Log
	sources     *datasource.Registry
	db          *store.DB
	apiKeys     map[string]string
	corsOrigins []string
	limiter     *userLimiter
	// workflowTimeout bounds generation routes; it must exceed the run
	// driver's own poll budget.
	workflowTimeout time.Duration
	startTime       time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithMemoryStore enables the memory endpoints.
func WithMemoryStore(m *memory.Store) Option {
	return func(s *Server) { s.memoryStore = m }
}

// WithChatLog enables the chat history endpoint.
func WithChatLog(l *chatlog.Log) Option {
	return func(s *Server) { s.chatLog = l }
}

// WithDataSources enables the catalog listing endpoint.
func WithDataSources(r *datasource.Registry) Option {
	return func(s *Server) { s.sources = r }
}

// WithStore lets /health?detail=true ping the database.
func WithStore(db *store.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithCORSOrigins sets allowed CORS origins (["*"] for any).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimit limits each user to rps requests per second on the workflow
// and chat routes. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(s *Server) { s.limiter = newUserLimiter(rps) }
}

// WithWorkflowTimeout overrides the request deadline of workflow routes.
func WithWorkflowTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.workflowTimeout = d
		}
	}
}

// NewServer builds a Server. apiKeys maps key → client label.
func NewServer(workflows Workflows, apiKeys map[string]string, opts ...Option) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		workflows:       workflows,
		apiKeys:         apiKeys,
		corsOrigins:     []string{"*"},
		workflowTimeout: 5 * time.Minute,
		startTime:       time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))

		// Workflow routes block on the run driver's polling loop.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.workflowTimeout))
			r.Post("/v1/workflows/{workflow}", s.handleWorkflow)
			r.Post("/v1/chat", s.handleChat)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/chat/history", s.handleChatHistory)
			r.Get("/v1/memory", s.handleMemory)
			r.Get("/v1/datasources", s.handleDataSources)
		})
	})
	return r
}
