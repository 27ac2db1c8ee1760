// Package trigger runs workflows without an inbound request: a cron schedule
// that refreshes coaching recommendations for every user who has a
// recommendations thread.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/config"
	"github.com/hashitfit/coach/internal/session"
)

// DefaultRefreshTimeout bounds one user's refresh.
const DefaultRefreshTimeout = 5 * time.Minute

// RecommendationRunner generates recommendations for one user.
type RecommendationRunner interface {
	GenerateRecommendations(ctx context.Context, req agent.Request) (*agent.Generated[agent.Recommendations], error)
}

// BindingLister lists the thread bindings of a workflow.
type BindingLister interface {
	List(ctx context.Context, workflow string) ([]session.Binding, error)
}

// Scheduler manages cron-based recommendation refreshes.
type Scheduler struct {
	cron     *cron.Cron
	runner   RecommendationRunner
	bindings BindingLister
	timeout  time.Duration
}

// NewScheduler creates a scheduler. Cron expressions use the standard
// 5-field format (e.g. "0 6 * * 1" for 06:00 on Mondays).
func NewScheduler(runner RecommendationRunner, bindings BindingLister) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		bindings: bindings,
		timeout:  DefaultRefreshTimeout,
	}
}

// RegisterRefresh adds the refresh job on spec. An empty spec registers
// nothing.
func (s *Scheduler) RegisterRefresh(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		log.Info().Str("cron", spec).Msg("scheduled_refresh_fired")
		s.RefreshAll(context.Background())
	})
	if err != nil {
		return fmt.Errorf("registering refresh cron %q: %w", spec, err)
	}
	return nil
}

// RefreshAll regenerates recommendations for every bound user, one user at
// a time. Failures are logged and counted, never fatal.
func (s *Scheduler) RefreshAll(ctx context.Context) (refreshed, failed int) {
	bindings, err := s.bindings.List(ctx, config.WorkflowRecommendations)
	if err != nil {
		log.Error().Err(err).Msg("scheduled_refresh_list_failed")
		return 0, 0
	}
	for _, b := range bindings {
		if ctx.Err() != nil {
			break
		}
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		out, err := s.runner.GenerateRecommendations(runCtx, agent.Request{UserID: b.UserID})
		cancel()
		if err != nil {
			failed++
			log.Warn().Err(err).Str("user_id", b.UserID).Msg("scheduled_refresh_failed")
			continue
		}
		refreshed++
		log.Debug().Str("user_id", b.UserID).Str("artifact_id", out.ArtifactID).Msg("scheduled_refresh_done")
	}
	log.Info().Int("refreshed", refreshed).Int("failed", failed).Msg("scheduled_refresh_finished")
	return refreshed, failed
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
