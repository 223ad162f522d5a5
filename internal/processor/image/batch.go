package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
	"golang.org/x/sync/errgroup"
)

// BatchProcessor compresses images in fixed-size chunks. Items inside a
// chunk run in parallel; the next chunk starts only after the whole chunk
// has finished. Item failures are reported and counted but never abort the
// batch.
type BatchProcessor struct {
	transformer Transformer
	chunkSize   int
}

var _ processor.Processor = (*BatchProcessor)(nil)

func NewBatchProcessor(cfg *processor.Config, t Transformer) *BatchProcessor {
	if cfg == nil {
		cfg = processor.DefaultConfig()
	}
	if t == nil {
		t = NewResizer(cfg)
	}
	size := cfg.ChunkSize
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &BatchProcessor{transformer: t, chunkSize: size}
}

func (p *BatchProcessor) Name() string {
	return "image"
}

func (p *BatchProcessor) Process(ctx context.Context, inputs []string, outputDir string, rep processor.Reporter) (*processor.Report, error) {
	if rep == nil {
		rep = processor.Discard
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", processor.ErrProcessingFailed, err)
	}

	report := &processor.Report{Total: len(inputs)}
	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	rep.Info(fmt.Sprintf("Found %d file(s)", len(inputs)))

	for start := 0; start < len(inputs); start += p.chunkSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := min(start+p.chunkSize, len(inputs))
		var g errgroup.Group
		for _, input := range inputs[start:end] {
			g.Go(func() error {
				name := filepath.Base(input)
				dst := filepath.Join(outputDir, name)

				if processor.Exists(dst) {
					rep.Info(fmt.Sprintf("Skipping %s (already compressed)", name))
					count(&report.Skipped)
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}

				meta, err := p.transformer.Transform(ctx, input, dst)
				if err != nil {
					rep.Error(fmt.Sprintf("Failed %s: %v", name, err))
					count(&report.Failed)
					return nil
				}
				if meta != nil {
					rep.Info(fmt.Sprintf("Compressed %s (%dx%d)", name, meta.Width, meta.Height))
				} else {
					rep.Info(fmt.Sprintf("Compressed %s", name))
				}
				count(&report.Processed)
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	rep.Info(fmt.Sprintf("All done! %s", report))
	return report, nil
}
