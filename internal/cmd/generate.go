package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/config"
	"github.com/hashitfit/coach/internal/trigger"
)

const workflowOnboarding = "onboarding"

var (
	genUser        string
	genContext     string
	genContextFile string
)

var generateCmd = &cobra.Command{
	Use:       "generate <workout|nutrition|recommendations|onboarding>",
	Short:     "Run a generation workflow for one user and print the stored result",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{config.WorkflowWorkout, config.WorkflowNutrition, config.WorkflowRecommendations, workflowOnboarding},
	RunE:      runGenerate,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Regenerate recommendations for every user with a recommendations thread",
	RunE:  runRefresh,
}

func init() {
	generateCmd.Flags().StringVar(&genUser, "user", "", "user id (required)")
	generateCmd.Flags().StringVar(&genContext, "context", "", "assessment or context as a JSON object")
	generateCmd.Flags().StringVar(&genContextFile, "context-file", "", "read the assessment or context from a JSON file")
	_ = generateCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(generateCmd, refreshCmd)
}

// readContext returns the context document from --context or --context-file.
func readContext(inline, path string) (json.RawMessage, error) {
	if inline != "" && path != "" {
		return nil, fmt.Errorf("--context and --context-file are mutually exclusive")
	}
	raw := []byte(inline)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading context file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("context is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "generate")
	defer span.End()

	workflowCtx, err := readContext(genContext, genContextFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	out, err := dispatchWorkflow(ctx, env.service, args[0], agent.Request{UserID: genUser, Context: workflowCtx})
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if res, ok := out.(*agent.OnboardResult); ok && !res.Success {
		return fmt.Errorf("onboarding failed: %s", res.Warning)
	}
	return nil
}

// dispatchWorkflow runs the named workflow.
func dispatchWorkflow(ctx context.Context, svc *agent.Service, workflow string, req agent.Request) (any, error) {
	switch workflow {
	case config.WorkflowWorkout:
		return svc.GenerateWorkout(ctx, req)
	case config.WorkflowNutrition:
		return svc.GenerateNutritionPlan(ctx, req)
	case config.WorkflowRecommendations:
		return svc.GenerateRecommendations(ctx, req)
	case workflowOnboarding:
		return svc.Onboard(ctx, req)
	default:
		return nil, fmt.Errorf("unknown workflow %q (expected workout, nutrition, recommendations or onboarding)", workflow)
	}
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "refresh")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	refreshed, failed := trigger.NewScheduler(env.service, env.sessions.Store()).RefreshAll(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s, %d failed\n", plural(refreshed, "user"), failed)
	if failed > 0 {
		return fmt.Errorf("%d refreshes failed", failed)
	}
	return nil
}
