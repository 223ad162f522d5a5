package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	ErrUnsupportedType  = errors.New("processor: unsupported file type")
	ErrProcessingFailed = errors.New("processor: processing failed")
	ErrCorruptedFile    = errors.New("processor: file appears corrupted")
	ErrNoInputs         = errors.New("processor: no input files")
)

// Processor compresses a batch of input files into outputDir. It returns an
// error only for batch-level faults; how item failures are treated is up to
// the implementation.
type Processor interface {
	Process(ctx context.Context, inputs []string, outputDir string, rep Reporter) (*Report, error)
	Name() string
}

// Reporter receives human-readable progress lines. Info lines go to the
// progress stream, Error lines to the failure stream.
type Reporter interface {
	Info(msg string)
	Error(msg string)
}

type Report struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r Report) String() string {
	return fmt.Sprintf("%d processed, %d skipped, %d failed", r.Processed, r.Skipped, r.Failed)
}

type ResultMetadata struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

type Config struct {
	Quality   int
	MaxWidth  int
	MaxHeight int
	// ChunkSize bounds in-flight image items; 0 means one per CPU.
	ChunkSize int
	// SplitSeconds is the video duration above which output is segmented.
	SplitSeconds float64
}

func DefaultConfig() *Config {
	return &Config{
		Quality:      85,
		MaxWidth:     3840,
		MaxHeight:    2160,
		SplitSeconds: 180,
	}
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

type nopReporter struct{}

func (nopReporter) Info(string)  {}
func (nopReporter) Error(string) {}

// Discard is a Reporter that drops every line.
var Discard Reporter = nopReporter{}

// Recorder collects reported lines, for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	Infos  []string
	Errors []string
}

func (r *Recorder) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Infos = append(r.Infos, msg)
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
}

// Contains reports whether any info or error line contains substr.
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lines := range [][]string{r.Infos, r.Errors} {
		for _, l := range lines {
			if strings.Contains(l, substr) {
				return true
			}
		}
	}
	return false
}
