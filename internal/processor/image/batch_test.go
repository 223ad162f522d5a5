package image

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
)

// trackingTransformer records start/end order and in-flight counts instead
// of decoding anything.
type trackingTransformer struct {
	mu       sync.Mutex
	seq      int
	inFlight int
	maxSeen  int
	starts   map[string]int
	ends     map[string]int
	delay    time.Duration
	fail     map[string]bool
}

func newTrackingTransformer(delay time.Duration) *trackingTransformer {
	return &trackingTransformer{
		starts: make(map[string]int),
		ends:   make(map[string]int),
		fail:   make(map[string]bool),
		delay:  delay,
	}
}

func (tt *trackingTransformer) Transform(ctx context.Context, src, dst string) (*processor.ResultMetadata, error) {
	name := filepath.Base(src)

	tt.mu.Lock()
	tt.seq++
	tt.starts[name] = tt.seq
	tt.inFlight++
	tt.maxSeen = max(tt.maxSeen, tt.inFlight)
	tt.mu.Unlock()

	time.Sleep(tt.delay)

	tt.mu.Lock()
	tt.seq++
	tt.ends[name] = tt.seq
	tt.inFlight--
	fail := tt.fail[name]
	tt.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("%w: simulated", processor.ErrCorruptedFile)
	}
	if err := os.WriteFile(dst, []byte("jpeg"), 0o644); err != nil {
		return nil, err
	}
	return &processor.ResultMetadata{Width: 1, Height: 1}, nil
}

func inputNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("in%02d.jpg", i)
	}
	return names
}

func TestBatchProcessor_ChunkBound(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	names := inputNames(7)
	inputs := make([]string, len(names))
	for i, n := range names {
		inputs[i] = filepath.Join(dir, n)
	}

	tr := newTrackingTransformer(30 * time.Millisecond)
	cfg := processor.DefaultConfig()
	cfg.ChunkSize = 3
	p := NewBatchProcessor(cfg, tr)

	report, err := p.Process(context.Background(), inputs, outDir, processor.Discard)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Processed != 7 {
		t.Errorf("Processed = %d, want 7", report.Processed)
	}

	if tr.maxSeen > 3 {
		t.Errorf("max in-flight = %d, want <= 3", tr.maxSeen)
	}
	if tr.maxSeen < 2 {
		t.Errorf("max in-flight = %d, items in a chunk should overlap", tr.maxSeen)
	}

	// Every item of chunk k must start after every item of chunk k-1 ended.
	for i := 3; i < len(names); i++ {
		prevChunk := (i/3 - 1) * 3
		for j := prevChunk; j < prevChunk+3; j++ {
			if tr.starts[names[i]] < tr.ends[names[j]] {
				t.Errorf("%s started (seq %d) before %s ended (seq %d)",
					names[i], tr.starts[names[i]], names[j], tr.ends[names[j]])
			}
		}
	}
}

func TestBatchProcessor_DefaultChunkSize(t *testing.T) {
	p := NewBatchProcessor(nil, nil)
	if p.chunkSize < 1 {
		t.Errorf("chunkSize = %d, want >= 1", p.chunkSize)
	}
	if p.Name() != "image" {
		t.Errorf("Name() = %q, want %q", p.Name(), "image")
	}
}

func TestBatchProcessor_IdempotentSkip(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	inputs := []string{
		writeTestJPEG(t, dir, "a.jpg", 120, 80),
		writeTestJPEG(t, dir, "b.jpeg", 80, 120),
	}

	p := NewBatchProcessor(smallBoxConfig(), nil)

	first, err := p.Process(context.Background(), inputs, outDir, processor.Discard)
	if err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if first.Processed != 2 || first.Skipped != 0 {
		t.Fatalf("first run = %+v, want 2 processed", first)
	}

	before := map[string]time.Time{}
	for _, in := range inputs {
		info, err := os.Stat(filepath.Join(outDir, filepath.Base(in)))
		if err != nil {
			t.Fatalf("missing output: %v", err)
		}
		before[in] = info.ModTime()
	}

	var rec processor.Recorder
	second, err := p.Process(context.Background(), inputs, outDir, &rec)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if second.Skipped != 2 || second.Processed != 0 {
		t.Errorf("second run = %+v, want 2 skipped", second)
	}
	if !rec.Contains("Skipping") {
		t.Error("skips should be reported")
	}

	for _, in := range inputs {
		info, err := os.Stat(filepath.Join(outDir, filepath.Base(in)))
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(before[in]) {
			t.Errorf("%s was rewritten on the second run", filepath.Base(in))
		}
	}
}

func TestBatchProcessor_FailSoft(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	inputs := []string{
		writeTestJPEG(t, dir, "good1.jpg", 60, 40),
		writeCorruptedJPEG(t, dir, "broken.jpg"),
		writeTestJPEG(t, dir, "good2.jpg", 40, 60),
	}

	var rec processor.Recorder
	report, err := NewBatchProcessor(smallBoxConfig(), nil).Process(context.Background(), inputs, outDir, &rec)
	if err != nil {
		t.Fatalf("Process() error = %v, item failures must not fail the batch", err)
	}

	if report.Processed != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want 2 processed and 1 failed", report)
	}
	if len(rec.Errors) != 1 || !strings.Contains(rec.Errors[0], "broken.jpg") {
		t.Errorf("errors = %v, want one line naming broken.jpg", rec.Errors)
	}
	if !processor.Exists(filepath.Join(outDir, "good1.jpg")) || !processor.Exists(filepath.Join(outDir, "good2.jpg")) {
		t.Error("healthy items should produce outputs")
	}
	if processor.Exists(filepath.Join(outDir, "broken.jpg")) {
		t.Error("failed item should not produce an output")
	}
}

func TestBatchProcessor_Cancelled(t *testing.T) {
	dir := t.TempDir()
	tr := newTrackingTransformer(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewBatchProcessor(nil, tr).Process(ctx, []string{filepath.Join(dir, "a.jpg")}, filepath.Join(dir, "out"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Process() error = %v, want context.Canceled", err)
	}
	if report.Processed != 0 || len(tr.starts) != 0 {
		t.Errorf("no item should run after cancellation, report = %+v", report)
	}
}

func TestBatchProcessor_OutputDirFault(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewBatchProcessor(nil, nil).Process(context.Background(), nil, filepath.Join(blocker, "out"), nil)
	if !errors.Is(err, processor.ErrProcessingFailed) {
		t.Errorf("Process() error = %v, want ErrProcessingFailed", err)
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	var rec processor.Recorder
	report, err := NewBatchProcessor(nil, nil).Process(context.Background(), nil, filepath.Join(t.TempDir(), "out"), &rec)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Total != 0 || !rec.Contains("Found 0 file(s)") {
		t.Errorf("report = %+v, lines = %v", report, rec.Infos)
	}
}

func TestBatchProcessor_OversizedEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large image test in short mode")
	}

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	inputs := []string{
		writeTestJPEG(t, dir, "wide.jpg", 4000, 2000),
		writeTestJPEG(t, dir, "tall.jpg", 2000, 4000),
	}

	report, err := NewBatchProcessor(nil, nil).Process(context.Background(), inputs, outDir, processor.Discard)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("report = %+v, want 2 processed", report)
	}

	want := map[string][2]int{"wide.jpg": {3840, 1920}, "tall.jpg": {1080, 2160}}
	for name, dims := range want {
		w, h := imageDimensions(t, filepath.Join(outDir, name))
		if w != dims[0] || h != dims[1] {
			t.Errorf("%s = %dx%d, want %dx%d", name, w, h, dims[0], dims[1])
		}
		if w > 3840 || h > 2160 {
			t.Errorf("%s exceeds 3840x2160: %s", name, strconv.Itoa(w)+"x"+strconv.Itoa(h))
		}
	}
}
