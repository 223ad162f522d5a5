package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
)

type fakeProber struct {
	durations map[string]float64
	probed    []string
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*VideoMetadata, error) {
	name := filepath.Base(path)
	f.probed = append(f.probed, name)
	d, ok := f.durations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVideo, name)
	}
	return &VideoMetadata{Duration: d, VideoCodec: "h264"}, nil
}

// fakeEncoder writes placeholder files. segmentsShort makes Segment produce
// one part fewer than requested.
type fakeEncoder struct {
	transcoded    []string
	segmented     []string
	failOn        string
	segmentsShort bool
	durations     map[string]float64
}

func (f *fakeEncoder) Transcode(ctx context.Context, input, output string) error {
	name := filepath.Base(input)
	if name == f.failOn {
		return fmt.Errorf("%w: simulated", ErrTranscodeFailed)
	}
	f.transcoded = append(f.transcoded, name)
	return os.WriteFile(output, []byte("mp4"), 0o644)
}

func (f *fakeEncoder) Segment(ctx context.Context, input, outputDir string, seconds float64) ([]string, error) {
	name := filepath.Base(input)
	if name == f.failOn {
		return nil, fmt.Errorf("%w: simulated", ErrTranscodeFailed)
	}
	f.segmented = append(f.segmented, name)

	n := SegmentCount(f.durations[name], seconds)
	if f.segmentsShort {
		n--
	}
	var outputs []string
	for i := 1; i <= n; i++ {
		out := filepath.Join(outputDir, segmentName(baseName(input), i))
		if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func newFakes(durations map[string]float64) (*fakeProber, *fakeEncoder) {
	return &fakeProber{durations: durations}, &fakeEncoder{durations: durations}
}

func TestBatchProcessor_SplitCount(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	prober, encoder := newFakes(map[string]float64{"long.mp4": 400, "short.mp4": 60})

	p := NewBatchProcessor(nil, prober, encoder)
	report, err := p.Process(context.Background(), []string{"/in/long.mp4", "/in/short.mp4"}, outDir, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Processed != 2 {
		t.Errorf("report = %+v, want 2 processed", report)
	}

	for _, name := range []string{"long_part001.mp4", "long_part002.mp4", "long_part003.mp4", "short.mp4"} {
		if !processor.Exists(filepath.Join(outDir, name)) {
			t.Errorf("missing output %s", name)
		}
	}
	if processor.Exists(filepath.Join(outDir, "long.mp4")) {
		t.Error("a split video should not also produce a single output")
	}
	if len(encoder.segmented) != 1 || len(encoder.transcoded) != 1 {
		t.Errorf("segmented=%v transcoded=%v", encoder.segmented, encoder.transcoded)
	}
}

func TestBatchProcessor_SkipWhenAllSegmentsExist(t *testing.T) {
	outDir := t.TempDir()
	prober, encoder := newFakes(map[string]float64{"long.mp4": 400})

	for i := 1; i <= 3; i++ {
		if err := os.WriteFile(filepath.Join(outDir, segmentName("long", i)), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var rec processor.Recorder
	report, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(), []string{"/in/long.mp4"}, outDir, &rec)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Skipped != 1 || len(encoder.segmented) != 0 {
		t.Errorf("report = %+v segmented = %v, want skip", report, encoder.segmented)
	}
	if !rec.Contains("Skipping long.mp4") {
		t.Errorf("skip not reported: %v", rec.Infos)
	}
}

func TestBatchProcessor_PartialSegmentsReprocessed(t *testing.T) {
	outDir := t.TempDir()
	prober, encoder := newFakes(map[string]float64{"long.mp4": 400})

	if err := os.WriteFile(filepath.Join(outDir, segmentName("long", 1)), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(), []string{"/in/long.mp4"}, outDir, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Processed != 1 || len(encoder.segmented) != 1 {
		t.Errorf("report = %+v, a partially segmented video must be redone", report)
	}
}

func TestBatchProcessor_SkipSingleOutput(t *testing.T) {
	outDir := t.TempDir()
	prober, encoder := newFakes(map[string]float64{"short.mp4": 30})
	if err := os.WriteFile(filepath.Join(outDir, "short.mp4"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(), []string{"/in/short.mp4"}, outDir, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Skipped != 1 || len(encoder.transcoded) != 0 {
		t.Errorf("report = %+v, want skip", report)
	}
}

func TestBatchProcessor_FailFast(t *testing.T) {
	outDir := t.TempDir()
	prober, encoder := newFakes(map[string]float64{"a.mp4": 10, "b.mp4": 10, "c.mp4": 10})
	encoder.failOn = "b.mp4"

	var rec processor.Recorder
	report, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(),
		[]string{"/in/a.mp4", "/in/b.mp4", "/in/c.mp4"}, outDir, &rec)

	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("Process() error = %v, want ErrTranscodeFailed", err)
	}
	if report.Processed != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 processed and 1 failed", report)
	}
	for _, name := range prober.probed {
		if name == "c.mp4" {
			t.Error("c.mp4 should not be attempted after b.mp4 failed")
		}
	}
	if !processor.Exists(filepath.Join(outDir, "a.mp4")) {
		t.Error("output of a.mp4 should be kept")
	}
	if !rec.Contains("Failed b.mp4") {
		t.Errorf("failure not reported: %v", rec.Errors)
	}
}

func TestBatchProcessor_ProbeFailureFailsBatch(t *testing.T) {
	prober, encoder := newFakes(map[string]float64{})

	_, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(), []string{"/in/x.mp4"}, t.TempDir(), nil)
	if !errors.Is(err, ErrInvalidVideo) {
		t.Errorf("Process() error = %v, want ErrInvalidVideo", err)
	}
}

func TestBatchProcessor_MissingSegment(t *testing.T) {
	prober, encoder := newFakes(map[string]float64{"long.mp4": 400})
	encoder.segmentsShort = true

	_, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(), []string{"/in/long.mp4"}, t.TempDir(), nil)
	if !errors.Is(err, ErrSegmentMissing) {
		t.Errorf("Process() error = %v, want ErrSegmentMissing", err)
	}
}

func TestBatchProcessor_EndsJustPastBoundary(t *testing.T) {
	outDir := t.TempDir()
	prober, encoder := newFakes(map[string]float64{"a.mp4": 360.04, "b.mp4": 30})
	encoder.segmentsShort = true

	var rec processor.Recorder
	p := NewBatchProcessor(nil, prober, encoder)
	report, err := p.Process(context.Background(), []string{"/in/a.mp4", "/in/b.mp4"}, outDir, &rec)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Processed != 2 {
		t.Errorf("report = %+v, want 2 processed", report)
	}
	for _, name := range []string{"a_part001.mp4", "a_part002.mp4", "b.mp4"} {
		if !processor.Exists(filepath.Join(outDir, name)) {
			t.Errorf("missing output %s", name)
		}
	}
	if !rec.Contains("Compressed a.mp4 into 2 part(s)") {
		t.Errorf("part count not reported: %v", rec.Infos)
	}

	report, err = p.Process(context.Background(), []string{"/in/a.mp4", "/in/b.mp4"}, outDir, nil)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if report.Skipped != 2 || len(encoder.segmented) != 1 || len(encoder.transcoded) != 1 {
		t.Errorf("report = %+v segmented = %v transcoded = %v, want both skipped on rerun",
			report, encoder.segmented, encoder.transcoded)
	}
}

func TestBatchProcessor_NoInputs(t *testing.T) {
	prober, encoder := newFakes(nil)

	_, err := NewBatchProcessor(nil, prober, encoder).Process(context.Background(), nil, t.TempDir(), nil)
	if !errors.Is(err, processor.ErrNoInputs) {
		t.Errorf("Process() error = %v, want ErrNoInputs", err)
	}
}

func TestBatchProcessor_Cancelled(t *testing.T) {
	prober, encoder := newFakes(map[string]float64{"a.mp4": 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBatchProcessor(nil, prober, encoder).Process(ctx, []string{"/in/a.mp4"}, t.TempDir(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
	if len(prober.probed) != 0 {
		t.Error("nothing should be probed after cancellation")
	}
}
