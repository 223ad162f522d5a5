package compressor

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestLineReporter(t *testing.T) {
	var out, errOut bytes.Buffer
	rep := newLineReporter(&out, &errOut)

	rep.Info("Compressed a.jpg")
	rep.Error("Failed b.jpg: bad header")

	if got := strings.TrimSpace(out.String()); got != "Compressed a.jpg" {
		t.Errorf("stdout = %q", out.String())
	}
	if got := strings.TrimSpace(errOut.String()); got != "Failed b.jpg: bad header" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestHelp(t *testing.T) {
	stdout, _, err := run(t, "--help")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"image", "video", "--quality", "--split-seconds"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestImageCommand(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")

	a := writeJPEG(t, in, "a.jpg", 640, 480)
	b := writeJPEG(t, in, "b.jpg", 320, 240)

	stdout, stderr, err := run(t, "image", "--max-width", "200", "--max-height", "200", a, b, out)
	if err != nil {
		t.Fatalf("image error = %v (stderr %q)", err, stderr)
	}

	if !strings.Contains(stdout, "Found 2 file(s)") {
		t.Errorf("stdout = %q, want file count", stdout)
	}
	if strings.Count(stdout, "Compressed ") != 2 {
		t.Errorf("stdout = %q, want two compressed lines", stdout)
	}

	for _, name := range []string{"a.jpg", "b.jpg"} {
		img, err := imaging.Open(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if b := img.Bounds(); b.Dx() > 200 || b.Dy() > 200 {
			t.Errorf("%s bounds = %v, want within 200x200", name, b)
		}
	}
}

func TestImageCommand_BadFileIsNotFatal(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")

	good := writeJPEG(t, in, "good.jpg", 64, 64)
	bad := filepath.Join(in, "bad.jpg")
	if err := os.WriteFile(bad, []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := run(t, "image", good, bad, out)
	if err != nil {
		t.Fatalf("image error = %v, want success despite bad file", err)
	}
	if !strings.Contains(stdout, "Compressed good.jpg") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "bad.jpg") {
		t.Errorf("stderr = %q, want failure for bad.jpg", stderr)
	}
}

func TestImageCommand_NoInputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	stdout, _, err := run(t, "image", out)
	if err != nil {
		t.Fatalf("image error = %v, want success", err)
	}
	if !strings.Contains(stdout, "Found 0 file(s)") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestVideoCommand_NoInputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	// Fails either because ffmpeg is missing or because the batch is empty.
	if _, _, err := run(t, "video", "--ffmpeg", "ffmpeg", out); err == nil {
		t.Fatal("video with no inputs should fail")
	}
}

func TestMissingOutputDir(t *testing.T) {
	if _, _, err := run(t, "image"); err == nil {
		t.Fatal("image with no arguments should fail")
	}
}
