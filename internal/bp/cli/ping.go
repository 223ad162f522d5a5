package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("server %s unreachable: %w", cfg.BaseURL, err)
		}
		if jsonOutput {
			return printer.JSON(map[string]any{"success": true, "ping": "pong"})
		}
		printer.Success("pong from %s", cfg.BaseURL)
		return nil
	},
}
