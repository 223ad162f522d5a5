package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdul-hamid-achik/batchpress/internal/bp/client"
	"github.com/abdul-hamid-achik/batchpress/internal/bp/config"
	"github.com/abdul-hamid-achik/batchpress/internal/bp/output"
	"github.com/abdul-hamid-achik/batchpress/internal/version"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	quietMode  bool
	noColor    bool
	baseURL    string
	cfg        *config.Config
	apiClient  client.ClientInterface
	printer    *output.Printer
)

// newClient is replaced in tests.
var newClient = func(c *config.Config) client.ClientInterface {
	return client.New(c.BaseURL, c.GetTimeout("http"))
}

var rootCmd = &cobra.Command{
	Use:   "bp",
	Short: "batchpress CLI - compress image and video batches",
	Long: `bp is the command-line client for a batchpress server.

Upload a batch of JPEG images or MP4 videos, follow the compression
progress, and download the result archive.

Get started:
  bp ping                                 # Check the server is up
  bp submit photos/*.jpg --download       # Compress and fetch the zip
  bp submit --type video clip.mp4 --watch # Follow a video job`,
	Version: version.Full(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}

		printer = output.New(
			output.WithJSON(jsonOutput),
			output.WithQuiet(quietMode),
			output.WithNoColor(noColor),
			output.WithOutput(cmd.OutOrStdout()),
			output.WithErrOutput(cmd.ErrOrStderr()),
		)

		apiClient = newClient(cfg)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&baseURL, "server", "", "Server URL (overrides config and "+config.EnvBaseURL+")")

	rootCmd.SetVersionTemplate("bp version {{.Version}}\n")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
}
