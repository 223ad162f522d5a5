package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
)

// FFmpeg probes and encodes videos by shelling out to ffmpeg and ffprobe.
type FFmpeg struct {
	config *VideoConfig
}

var (
	_ Prober  = (*FFmpeg)(nil)
	_ Encoder = (*FFmpeg)(nil)
)

func NewFFmpeg(cfg *VideoConfig) (*FFmpeg, error) {
	if cfg == nil {
		cfg = DefaultVideoConfig()
	}

	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFprobeNotFound, err)
	}

	return &FFmpeg{config: cfg}, nil
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, f.config.FFprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffprobe failed: %v", ErrInvalidVideo, err)
	}

	return parseProbe(output)
}

func parseProbe(output []byte) (*VideoMetadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", ErrInvalidVideo, err)
	}

	metadata := &VideoMetadata{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			metadata.Duration = d
		}
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			metadata.VideoCodec = stream.CodecName
			metadata.Width = stream.Width
			metadata.Height = stream.Height
			// The container duration covers the longest stream, usually an
			// audio tail. Segments are cut on video frames only.
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil && d > 0 {
				metadata.Duration = d
			}
		case "audio":
			metadata.AudioCodec = stream.CodecName
			metadata.HasAudio = true
		}
	}

	if metadata.VideoCodec == "" {
		return nil, fmt.Errorf("%w: no video stream", ErrInvalidVideo)
	}
	if metadata.Duration <= 0 {
		return nil, fmt.Errorf("%w: unknown duration", ErrInvalidVideo)
	}
	return metadata, nil
}

// Transcode re-encodes input into a single output file. The file appears
// under its final name only once ffmpeg has finished writing it.
func (f *FFmpeg) Transcode(ctx context.Context, input, output string) error {
	tmp := filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+".part")
	defer func() { _ = os.Remove(tmp) }()

	args := f.transcodeArgs(input, tmp)
	if err := f.run(ctx, args); err != nil {
		return err
	}
	if err := os.Rename(tmp, output); err != nil {
		return fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	return nil
}

// Segment re-encodes input into consecutive parts of at most seconds each,
// named <base>_part001.mp4, <base>_part002.mp4, ... in outputDir. Parts are
// produced in a scratch directory and moved into place together.
func (f *FFmpeg) Segment(ctx context.Context, input, outputDir string, seconds float64) ([]string, error) {
	scratch, err := os.MkdirTemp(outputDir, "."+baseName(input)+".segments-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrProcessingFailed, err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	base := baseName(input)
	args := f.segmentArgs(input, filepath.Join(scratch, segmentPattern(base)), seconds)
	if err := f.run(ctx, args); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	outputs := make([]string, 0, len(entries))
	for _, e := range entries {
		dst := filepath.Join(outputDir, e.Name())
		if err := os.Rename(filepath.Join(scratch, e.Name()), dst); err != nil {
			return outputs, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
		}
		outputs = append(outputs, dst)
	}
	return outputs, nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.config.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: ffmpeg failed: %v, output: %s", ErrTranscodeFailed, err, lastLines(string(output), 5))
	}
	return nil
}

func (f *FFmpeg) codecArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", f.config.Preset,
		"-crf", strconv.Itoa(f.config.CRF),
		"-pix_fmt", f.config.PixelFormat,
		"-profile:v", f.config.Profile,
		"-level", f.config.Level,
		"-c:a", "aac",
		"-b:a", f.config.AudioBitrate,
	}
}

func (f *FFmpeg) transcodeArgs(input, output string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", input}
	args = append(args, f.codecArgs()...)
	args = append(args, "-movflags", "+faststart", "-f", "mp4", output)
	return args
}

func (f *FFmpeg) segmentArgs(input, pattern string, seconds float64) []string {
	split := strconv.FormatFloat(seconds, 'f', -1, 64)

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", input}
	args = append(args, f.codecArgs()...)
	args = append(args,
		// Keyframes on every boundary so parts are cut at exactly the
		// split length.
		"-force_key_frames", "expr:gte(t,n_forced*"+split+")",
		"-f", "segment",
		"-segment_time", split,
		"-segment_start_number", "1",
		"-reset_timestamps", "1",
		"-segment_format", "mp4",
		"-segment_format_options", "movflags=+faststart",
		pattern,
	)
	return args
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
