package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/bp/client"
	"github.com/abdul-hamid-achik/batchpress/internal/bp/output"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress until it finishes",
	Long: `Stream progress events for a job.

With --json every event is printed as one JSON line.

Examples:
  bp watch 3f2a...                 # Progress bar and per-file lines
  bp watch 3f2a... --json | jq .   # Machine-readable events`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return followJob(cmd.Context(), args[0])
	},
}

// ErrJobFailed is returned when a followed job ends in FAILED.
var ErrJobFailed = errors.New("job failed")

func followJob(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.GetTimeout("job"))
	defer cancel()

	bar := output.NewProgress(-1, "Compressing",
		output.ProgressWithQuiet(quietMode || jsonOutput),
		output.ProgressWithOutput(rootCmd.ErrOrStderr()),
	)

	var final client.Event
	err := apiClient.Stream(ctx, jobID, func(ev client.Event) error {
		if jsonOutput {
			if err := printer.JSONLine(ev); err != nil {
				return err
			}
		}
		handleEvent(bar, ev)
		if ev.Terminal() {
			final = ev
		}
		return nil
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("watching job %s: %w", jobID, err)
	}

	if final.Kind == "failed" {
		printer.Error("Job %s failed: %s", jobID, final.Message)
		return fmt.Errorf("%w: %s", ErrJobFailed, final.Message)
	}
	printer.Success("Job %s finished in %s", jobID, bar.Duration().Round(100*time.Millisecond))
	return nil
}

func handleEvent(bar *output.Progress, ev client.Event) {
	switch ev.Kind {
	case "status":
		printer.Info("Job %s is %s", ev.JobID, output.Status(ev.Status))
	case "progress":
		var found int
		if _, err := fmt.Sscanf(ev.Message, "Found %d file(s)", &found); err == nil {
			bar.SetTotal(found)
			return
		}
		if strings.HasPrefix(ev.Message, "Compressed ") || strings.HasPrefix(ev.Message, "Skipping ") {
			bar.Increment()
		}
		bar.Describe(ev.Message)
	case "error":
		if strings.HasPrefix(ev.Message, "Failed ") {
			bar.Increment()
		}
		printer.Warn("%s", ev.Message)
	}
}
