package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/batchpress/internal/bp/output"
	"github.com/spf13/cobra"
)

// sanitizeFilename removes path components and separators from a filename
// received from the server. It returns "" for names that cannot be used.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filepath.Clean(filename))
	if filename == "." || filename == ".." || filename == "" || filename == "/" {
		return ""
	}

	return strings.Map(func(r rune) rune {
		if r == 0 || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, filename)
}

// safePath joins filename to baseDir and fails if the result escapes it.
func safePath(baseDir, filename string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	sanitized := sanitizeFilename(filename)
	if sanitized == "" {
		return "", errors.New("invalid filename")
	}

	absPath, err := filepath.Abs(filepath.Join(absBase, sanitized))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", errors.New("path escapes target directory")
	}
	return absPath, nil
}

var downloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download a finished job's archive",
	Long: `Download the zip archive of a finished job.

The server deletes the job and its files once the archive has been
downloaded, so each archive can be fetched once.

Examples:
  bp download 3f2a...                   # Save result-<id>.zip here
  bp download 3f2a... -o ./results/     # Into a directory
  bp download 3f2a... -o photos.zip     # To a specific file`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := downloadOutput
		if dest == "" {
			dest = cfg.Output
		}
		return downloadJob(cmd.Context(), args[0], dest)
	},
}

var downloadOutput string

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output directory or file path (default from config)")
}

func downloadJob(ctx context.Context, jobID, dest string) error {
	body, filename, size, err := apiClient.Download(ctx, jobID)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = body.Close() }()

	if sanitizeFilename(filename) == "" {
		filename = "result-" + jobID + ".zip"
	}

	outputPath, err := resolveOutput(dest, filename)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".bp-download-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	bar := output.NewByteProgress(size, "Downloading", quietMode || jsonOutput)
	written, err := io.Copy(io.MultiWriter(tmp, bar), body)
	bar.Finish()
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("archive truncated: got %d of %d bytes", written, size)
	}

	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}

	if jsonOutput {
		return printer.JSON(map[string]any{"jobId": jobID, "path": outputPath, "size": written})
	}
	printer.Success("Downloaded %s to %s", filename, outputPath)
	return nil
}

// resolveOutput treats an existing directory (or one ending in a separator)
// as the place for filename and anything else as the target file path.
func resolveOutput(dest, filename string) (string, error) {
	if strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(filepath.Separator)) {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	info, err := os.Stat(dest)
	switch {
	case err == nil && info.IsDir():
		path, err := safePath(dest, filename)
		if err != nil {
			return "", fmt.Errorf("unsafe download path: %w", err)
		}
		return path, nil
	case err == nil || os.IsNotExist(err):
		if dir := filepath.Dir(dest); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
		}
		return dest, nil
	default:
		return "", err
	}
}
