package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
)

type Prober interface {
	Probe(ctx context.Context, path string) (*VideoMetadata, error)
}

type Encoder interface {
	Transcode(ctx context.Context, input, output string) error
	Segment(ctx context.Context, input, outputDir string, seconds float64) ([]string, error)
}

// BatchProcessor transcodes videos one at a time. Videos longer than the
// split threshold are cut into fixed-length parts. The first failure aborts
// the batch; earlier outputs stay in place.
type BatchProcessor struct {
	prober  Prober
	encoder Encoder
	split   float64
}

var _ processor.Processor = (*BatchProcessor)(nil)

func NewBatchProcessor(cfg *processor.Config, prober Prober, encoder Encoder) *BatchProcessor {
	if cfg == nil {
		cfg = processor.DefaultConfig()
	}
	return &BatchProcessor{prober: prober, encoder: encoder, split: cfg.SplitSeconds}
}

func (p *BatchProcessor) Name() string {
	return "video"
}

func (p *BatchProcessor) Process(ctx context.Context, inputs []string, outputDir string, rep processor.Reporter) (*processor.Report, error) {
	if rep == nil {
		rep = processor.Discard
	}
	if len(inputs) == 0 {
		rep.Error("No input files")
		return nil, processor.ErrNoInputs
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", processor.ErrProcessingFailed, err)
	}

	report := &processor.Report{Total: len(inputs)}
	rep.Info(fmt.Sprintf("Found %d file(s)", len(inputs)))

	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		name := filepath.Base(input)
		skipped, err := p.processOne(ctx, input, outputDir, rep)
		if err != nil {
			report.Failed++
			rep.Error(fmt.Sprintf("Failed %s: %v", name, err))
			return report, fmt.Errorf("%s: %w", name, err)
		}
		if skipped {
			report.Skipped++
		} else {
			report.Processed++
		}
	}

	rep.Info(fmt.Sprintf("All done! %s", report))
	return report, nil
}

func (p *BatchProcessor) processOne(ctx context.Context, input, outputDir string, rep processor.Reporter) (bool, error) {
	name := filepath.Base(input)

	meta, err := p.prober.Probe(ctx, input)
	if err != nil {
		return false, err
	}

	planned := PlanOutputs(input, outputDir, meta.Duration, p.split)
	required := planned[:RequiredSegments(meta.Duration, p.split)]
	if allExist(required) {
		rep.Info(fmt.Sprintf("Skipping %s (already compressed)", name))
		return true, nil
	}

	if len(planned) == 1 {
		rep.Info(fmt.Sprintf("Processing %s (%.1fs)", name, meta.Duration))
		if err := p.encoder.Transcode(ctx, input, planned[0]); err != nil {
			return false, err
		}
		rep.Info(fmt.Sprintf("Compressed %s", name))
		return false, nil
	}

	rep.Info(fmt.Sprintf("Processing %s (%.1fs), splitting into %d part(s)", name, meta.Duration, len(planned)))
	if _, err := p.encoder.Segment(ctx, input, outputDir, p.split); err != nil {
		return false, err
	}
	for _, out := range required {
		if !processor.Exists(out) {
			return false, fmt.Errorf("%w: %s", ErrSegmentMissing, filepath.Base(out))
		}
	}
	parts := len(required)
	if len(required) < len(planned) && processor.Exists(planned[len(planned)-1]) {
		parts = len(planned)
	}
	rep.Info(fmt.Sprintf("Compressed %s into %d part(s)", name, parts))
	return false, nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if !processor.Exists(p) {
			return false
		}
	}
	return true
}
