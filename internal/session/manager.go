package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/session")

// ErrUserRequired is returned when no user id is given.
var ErrUserRequired = errors.New("user id required")

// ThreadService is the slice of the remote backend the manager needs.
type ThreadService interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// Manager resolves users to threads.
type Manager struct {
	threads ThreadService
	store   BindingStore
	now     func() time.Time
}

// NewManager creates a session manager.
func NewManager(threads ThreadService, store BindingStore) *Manager {
	return &Manager{
		threads: threads,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the manager's binding store.
func (m *Manager) Store() BindingStore {
	return m.store
}

// ResolveThread returns the user's thread for workflow, creating and binding
// one on first use. Concurrent first calls all return the same thread: the
// first binding written wins and the losers' remote threads are deleted on a
// best-effort basis. A thread creation failure is returned as is.
func (m *Manager) ResolveThread(ctx context.Context, workflow, userID string) (string, error) {
	if userID == "" {
		return "", ErrUserRequired
	}
	ctx, span := tracer.Start(ctx, "session.resolve_thread",
		trace.WithAttributes(
			coachotel.UserID.String(userID),
			coachotel.Workflow.String(workflow),
		))
	defer span.End()

	b, err := m.store.Get(ctx, userID, workflow)
	if err == nil {
		span.SetAttributes(coachotel.ThreadID.String(b.ThreadID), attribute.Bool("session.created", false))
		return b.ThreadID, nil
	}
	if !errors.Is(err, ErrBindingNotFound) {
		span.RecordError(err)
		return "", err
	}

	threadID, err := m.threads.CreateThread(ctx)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("creating thread: %w", err)
	}

	stored, inserted, err := m.store.Insert(ctx, Binding{
		UserID:    userID,
		Workflow:  workflow,
		ThreadID:  threadID,
		CreatedAt: m.now(),
	})
	if err != nil {
		span.RecordError(err)
		m.discard(ctx, threadID)
		return "", err
	}
	if !inserted {
		log.Debug().
			Str("user_id", userID).
			Str("workflow", workflow).
			Str("thread_id", stored.ThreadID).
			Str("discarded_thread_id", threadID).
			Msg("thread_binding_race_lost")
		m.discard(ctx, threadID)
	} else {
		log.Info().
			Str("user_id", userID).
			Str("workflow", workflow).
			Str("thread_id", threadID).
			Func(coachotel.LogTraceFields(ctx)).
			Msg("thread_created")
	}
	span.SetAttributes(coachotel.ThreadID.String(stored.ThreadID), attribute.Bool("session.created", inserted))
	return stored.ThreadID, nil
}

// discard deletes an unbound remote thread. Failures only leave an orphaned
// thread behind, so they are logged.
func (m *Manager) discard(ctx context.Context, threadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.threads.DeleteThread(ctx, threadID); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("orphan_thread_delete_failed")
	}
}
