package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <file...>",
	Short: "Upload files as one compression job",
	Long: `Upload JPEG images or MP4 videos as a single job.

Examples:
  bp submit a.jpg b.jpg                   # Start an image job
  bp submit --type video clip.mp4         # Start a video job
  bp submit photos/ --watch               # Every .jpg in a directory, with progress
  bp submit *.jpg --download -o ./out     # Wait, then save the zip`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var (
	submitType     string
	submitWatch    bool
	submitDownload bool
	submitOutput   string
)

func init() {
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "", "Job type: image or video (default from config)")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "Follow progress until the job finishes")
	submitCmd.Flags().BoolVarP(&submitDownload, "download", "d", false, "Wait for the job and download the archive")
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", "", "Directory or file for --download (default from config)")
}

var typeExtensions = map[string][]string{
	"image": {".jpg", ".jpeg"},
	"video": {".mp4"},
}

func runSubmit(cmd *cobra.Command, args []string) error {
	jobType := submitType
	if jobType == "" {
		jobType = cfg.Type
	}
	exts, ok := typeExtensions[jobType]
	if !ok {
		return fmt.Errorf("unknown job type %q (use image or video)", jobType)
	}

	files, err := collectFiles(args, exts)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no %s files found", strings.Join(exts, "/"))
	}

	ctx := cmd.Context()
	printer.Info("Uploading %d file(s) to %s", len(files), cfg.BaseURL)

	resp, err := apiClient.Submit(ctx, jobType, files)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	if jsonOutput && !submitWatch && !submitDownload {
		return printer.JSON(resp)
	}
	printer.Success("Job %s submitted", resp.JobID)

	if !submitWatch && !submitDownload {
		printer.Indent("bp watch %s", resp.JobID)
		return nil
	}

	if err := followJob(ctx, resp.JobID); err != nil {
		return err
	}
	if !submitDownload {
		return nil
	}

	dest := submitOutput
	if dest == "" {
		dest = cfg.Output
	}
	return downloadJob(ctx, resp.JobID, dest)
}

// collectFiles expands directories one level deep to the files with a
// matching extension. Files named explicitly are passed through so the
// server can report why it rejects them.
func collectFiles(args []string, exts []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && hasExtension(e.Name(), exts) {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	return files, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
