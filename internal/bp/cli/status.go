package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/bp/client"
	"github.com/abdul-hamid-achik/batchpress/internal/bp/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status, inputs and recent log",
	Long: `Show the current state of a job.

Examples:
  bp status 3f2a...            # Status, inputs and recent log lines
  bp status 3f2a... --log 0    # Without the log
  bp status 3f2a... --json     # Full job record`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusLogLines int

func init() {
	statusCmd.Flags().IntVar(&statusLogLines, "log", 10, "Number of recent log lines to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	j, err := apiClient.GetJob(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get job status: %w", err)
	}

	if jsonOutput {
		return printer.JSON(j)
	}

	printJob(j)
	return nil
}

func printJob(j *client.Job) {
	printer.Header("Job " + j.ID)
	printer.KeyValue("Type", j.Type)
	printer.KeyValue("Status", output.Status(j.Status))
	printer.KeyValue("Created", j.CreatedAt.Local().Format(time.DateTime))
	if j.FinishedAt != nil {
		printer.KeyValue("Took", j.FinishedAt.Sub(j.CreatedAt).Round(time.Second).String())
	}
	if j.Error != "" {
		printer.KeyValue("Error", j.Error)
	}
	if j.ExitCode != nil {
		printer.KeyValue("Exit code", strconv.Itoa(*j.ExitCode))
	}
	if j.DownloadURL != "" {
		printer.KeyValue("Download", "bp download "+j.ID)
	}

	if len(j.Inputs) > 0 {
		printer.Printf("\n")
		table := output.NewTable(printer.Out(), []string{"FILE", "SIZE"}, quietMode)
		for _, in := range j.Inputs {
			table.Append(in.OriginalName, formatBytes(in.Size))
		}
		table.Render()
	}

	if statusLogLines > 0 && len(j.Log) > 0 {
		printer.Printf("\n")
		start := max(len(j.Log)-statusLogLines, 0)
		for _, entry := range j.Log[start:] {
			if entry.Kind == "error" {
				printer.Warn("%s", entry.Message)
				continue
			}
			printer.Indent("%s", entry.Message)
		}
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
