package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashitfit/coach/internal/doctor"
)

var (
	doctorOffline bool
	doctorJSON    bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, assistants, store, catalog, remote service)",
	Long:  "Verifies the data directory is writable, every workflow has an assistant, the store migrates, the catalog validates, and the assistant service accepts the API key.",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip assistant service and Redis connectivity checks")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	ctx, span := tracer.Start(ctx, "doctor")
	defer span.End()

	report := doctor.Run(ctx, doctor.Options{SkipRemote: doctorOffline})
	out := cmd.OutOrStdout()
	if doctorJSON {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			fmt.Fprintf(out, "%s %s: %s\n", statusMark(c.Status), c.Name, c.Message)
			if c.Fix != "" && c.Status != doctor.StatusPass {
				fmt.Fprintf(out, "    fix: %s\n", c.Fix)
			}
		}
		fmt.Fprintf(out, "\n%d passed, %d warnings, %d failed\n", report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	}
	if report.Status == doctor.StatusFail {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

func statusMark(status string) string {
	switch status {
	case doctor.StatusPass:
		return "✓"
	case doctor.StatusWarn:
		return "⚠"
	default:
		return "✗"
	}
}
