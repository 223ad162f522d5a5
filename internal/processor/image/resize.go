package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
	"github.com/disintegration/imaging"
)

// Transformer compresses one image file from src to dst.
type Transformer interface {
	Transform(ctx context.Context, src, dst string) (*processor.ResultMetadata, error)
}

// Resizer fits images inside a bounding box without enlarging them and
// re-encodes them as JPEG.
type Resizer struct {
	config *processor.Config
}

var _ Transformer = (*Resizer)(nil)

func NewResizer(cfg *processor.Config) *Resizer {
	if cfg == nil {
		cfg = processor.DefaultConfig()
	}
	return &Resizer{config: cfg}
}

func (r *Resizer) Transform(ctx context.Context, src, dst string) (*processor.ResultMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrCorruptedFile, err)
	}

	resized := imaging.Fit(img, r.config.MaxWidth, r.config.MaxHeight, imaging.Lanczos)

	// Written under a temporary name so an interrupted run never leaves a
	// partial file that a restart would skip.
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrProcessingFailed, err)
	}
	tmpPath := tmp.Name()

	err = imaging.Encode(tmp, resized, imaging.JPEG, imaging.JPEGQuality(r.config.Quality))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, dst)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: encode jpeg: %v", processor.ErrProcessingFailed, err)
	}

	bounds := resized.Bounds()
	return &processor.ResultMetadata{
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Format:  "jpeg",
		Quality: r.config.Quality,
	}, nil
}
