package image

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

// createTestImage creates a test image with a gradient pattern.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(255 * x / width)
			img.Pix[i+1] = uint8(255 * y / height)
			img.Pix[i+2] = 128
			img.Pix[i+3] = 255
		}
	}

	return img
}

// writeTestJPEG writes a gradient JPEG of the given size into dir.
func writeTestJPEG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createTestImage(width, height), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test jpeg: %v", err)
	}
	return path
}

// writeCorruptedJPEG writes a truncated JPEG (valid header, incomplete data).
func writeCorruptedJPEG(t *testing.T, dir, name string) string {
	t.Helper()

	data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupted jpeg: %v", err)
	}
	return path
}

// imageDimensions decodes the image at path and returns its dimensions.
func imageDimensions(t *testing.T, path string) (width, height int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	if format != "jpeg" {
		t.Fatalf("format = %q, want jpeg", format)
	}
	return cfg.Width, cfg.Height
}
