// Package compressor is the worker binary: it compresses one batch of files
// into an output directory and reports progress as plain lines.
//
// Usage: compressor <image|video> <inputs...> <output-dir>
//
// The process exits 0 when the batch was accepted, even if single images
// failed, and non-zero only when the batch as a whole could not be run.
package compressor

import (
	"context"
	"fmt"
	"io"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
	"github.com/abdul-hamid-achik/batchpress/internal/processor/image"
	"github.com/abdul-hamid-achik/batchpress/internal/processor/video"
	"github.com/abdul-hamid-achik/batchpress/internal/version"
	"github.com/spf13/cobra"
)

type options struct {
	quality      int
	maxWidth     int
	maxHeight    int
	chunkSize    int
	splitSeconds float64

	ffmpeg  string
	ffprobe string
	preset  string
	crf     int
}

func (o *options) processorConfig() *processor.Config {
	return &processor.Config{
		Quality:      o.quality,
		MaxWidth:     o.maxWidth,
		MaxHeight:    o.maxHeight,
		ChunkSize:    o.chunkSize,
		SplitSeconds: o.splitSeconds,
	}
}

func (o *options) videoConfig() *video.VideoConfig {
	cfg := video.DefaultVideoConfig()
	cfg.Config = o.processorConfig()
	cfg.FFmpegPath = o.ffmpeg
	cfg.FFprobePath = o.ffprobe
	cfg.Preset = o.preset
	cfg.CRF = o.crf
	return cfg
}

// NewCommand builds the compressor command tree writing progress to stdout
// and failures to stderr.
func NewCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	defaults := processor.DefaultConfig()
	videoDefaults := video.DefaultVideoConfig()

	root := &cobra.Command{
		Use:           "compressor",
		Short:         "Compress a batch of images or videos",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("compressor version {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.IntVar(&opts.quality, "quality", defaults.Quality, "JPEG quality (1-100)")
	flags.IntVar(&opts.maxWidth, "max-width", defaults.MaxWidth, "Maximum output width in pixels")
	flags.IntVar(&opts.maxHeight, "max-height", defaults.MaxHeight, "Maximum output height in pixels")
	flags.IntVar(&opts.chunkSize, "chunk-size", 0, "Images compressed in parallel (0 = one per CPU)")
	flags.Float64Var(&opts.splitSeconds, "split-seconds", defaults.SplitSeconds, "Split videos longer than this many seconds (0 = never)")
	flags.StringVar(&opts.ffmpeg, "ffmpeg", videoDefaults.FFmpegPath, "ffmpeg executable")
	flags.StringVar(&opts.ffprobe, "ffprobe", videoDefaults.FFprobePath, "ffprobe executable")
	flags.StringVar(&opts.preset, "preset", videoDefaults.Preset, "x264 preset")
	flags.IntVar(&opts.crf, "crf", videoDefaults.CRF, "x264 constant rate factor")

	rep := newLineReporter(stdout, stderr)

	root.AddCommand(
		batchCommand("image", "Resize and re-encode JPEG images", opts, rep),
		batchCommand("video", "Re-encode MP4 videos, splitting long ones into parts", opts, rep),
	)
	return root
}

func batchCommand(name, short string, opts *options, rep processor.Reporter) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <inputs...> <output-dir>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, outputDir := args[:len(args)-1], args[len(args)-1]

			registry, err := newRegistry(name, opts)
			if err != nil {
				rep.Error(err.Error())
				return err
			}
			p, err := registry.GetOrError(name)
			if err != nil {
				rep.Error(err.Error())
				return err
			}

			if _, err := p.Process(cmd.Context(), inputs, outputDir, rep); err != nil {
				rep.Error(fmt.Sprintf("Batch failed: %v", err))
				return err
			}
			return nil
		},
	}
}

// newRegistry registers the image processor and, when needed, the video
// processor, which requires ffmpeg and ffprobe on the PATH.
func newRegistry(category string, opts *options) (*processor.Registry, error) {
	cfg := opts.processorConfig()

	registry := processor.NewRegistry()
	registry.Register(image.NewBatchProcessor(cfg, nil))

	if category == "video" {
		ff, err := video.NewFFmpeg(opts.videoConfig())
		if err != nil {
			return nil, err
		}
		registry.Register(video.NewBatchProcessor(cfg, ff, ff))
	}
	return registry, nil
}

// Execute runs the compressor with args until ctx is done.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := NewCommand(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
