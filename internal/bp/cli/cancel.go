package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient.Cancel(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		if jsonOutput {
			return printer.JSON(resp)
		}
		printer.Success("Job %s is %s", resp.JobID, resp.Status)
		return nil
	},
}
