package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/bp/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change CLI settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printer.JSON(cfg)
		}
		path, _ := config.Path()
		printer.Header("Configuration")
		printer.KeyValue("File", path)
		printer.KeyValue("base_url", cfg.BaseURL)
		printer.KeyValue("type", cfg.Type)
		printer.KeyValue("output", cfg.Output)
		printer.KeyValue("timeouts.http", cfg.GetTimeout("http").String())
		printer.KeyValue("timeouts.job", cfg.GetTimeout("job").String())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a value in ~/.config/bp/config.yaml.

Keys: base_url, type, output, timeouts.http, timeouts.job

Examples:
  bp config set base_url http://compress.internal:8080
  bp config set type video
  bp config set timeouts.job 4h`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stored, err := config.LoadFile()
		if err != nil {
			return err
		}
		if err := setValue(stored, args[0], args[1]); err != nil {
			return err
		}
		if err := stored.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		printer.Success("%s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func setValue(c *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "base_url":
		c.BaseURL = value
	case "type":
		if _, ok := typeExtensions[value]; !ok {
			return fmt.Errorf("unknown job type %q (use image or video)", value)
		}
		c.Type = value
	case "output":
		c.Output = value
	case "timeouts.http", "timeouts.job":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		if strings.HasSuffix(key, "http") {
			c.Timeouts.HTTP = value
		} else {
			c.Timeouts.Job = value
		}
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}
