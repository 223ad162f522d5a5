package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Progress counts processed files of a job. Its total may grow as the
// worker reports how many files it found.
type Progress struct {
	bar     *progressbar.ProgressBar
	quiet   bool
	out     io.Writer
	started time.Time
}

type ProgressOption func(*Progress)

func ProgressWithQuiet(quiet bool) ProgressOption {
	return func(p *Progress) {
		p.quiet = quiet
	}
}

func ProgressWithOutput(out io.Writer) ProgressOption {
	return func(p *Progress) {
		p.out = out
	}
}

func NewProgress(total int, description string, opts ...ProgressOption) *Progress {
	p := &Progress{
		out:     os.Stderr,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.quiet {
		return p
	}

	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	return p
}

func (p *Progress) SetTotal(total int) {
	if p.bar != nil && total > 0 {
		p.bar.ChangeMax(total)
	}
}

func (p *Progress) Describe(description string) {
	if p.bar != nil {
		p.bar.Describe(description)
	}
}

func (p *Progress) Increment() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *Progress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func (p *Progress) Duration() time.Duration {
	return time.Since(p.started)
}

// ByteProgress is an io.Writer that advances a byte-count bar; use it with
// io.TeeReader or io.MultiWriter during transfers.
type ByteProgress struct {
	bar     *progressbar.ProgressBar
	quiet   bool
	out     io.Writer
	started time.Time
}

func NewByteProgress(total int64, description string, quiet bool) *ByteProgress {
	p := &ByteProgress{
		out:     os.Stderr,
		quiet:   quiet,
		started: time.Now(),
	}

	if quiet {
		return p
	}

	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[cyan]=[reset]",
			SaucerHead:    "[cyan]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	return p
}

func (p *ByteProgress) Write(b []byte) (int, error) {
	n := len(b)
	if p.bar != nil {
		_ = p.bar.Add(n)
	}
	return n, nil
}

func (p *ByteProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
