package agent

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadImages_SkipsNonImageFiles(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := loadImages([]string{textPath})
	if len(got) != 0 {
		t.Errorf("expected non-image file to be skipped, got %d images", len(got))
	}
}

func TestLoadImages_SmallImagePassesThroughUnscaled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.png")
	writeTestPNG(t, path, 100, 80)

	got := loadImages([]string{path})
	if len(got) != 1 {
		t.Fatalf("expected 1 image, got %d", len(got))
	}
	if got[0].MimeType != "image/png" {
		t.Errorf("expected mime to stay png for an image under the threshold, got %s", got[0].MimeType)
	}
}

func TestLoadImages_OversizedImageIsDownscaledToJPEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	writeTestPNG(t, path, maxImageDimension+500, 200)

	got := loadImages([]string{path})
	if len(got) != 1 {
		t.Fatalf("expected 1 image, got %d", len(got))
	}
	if got[0].MimeType != "image/jpeg" {
		t.Errorf("expected downscaled image to be re-encoded as jpeg, got %s", got[0].MimeType)
	}

	raw, err := base64.StdEncoding.DecodeString(got[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	if b.Dx() > maxImageDimension || b.Dy() > maxImageDimension {
		t.Errorf("expected downscaled image to fit within %d, got %dx%d", maxImageDimension, b.Dx(), b.Dy())
	}
}

func TestDownscaleIfNeeded_OversizedIsReencodedAsJPEG(t *testing.T) {
	img := imaging.New(maxImageDimension*2, 100, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	data, mime := downscaleIfNeeded(buf.Bytes(), "image/png", "memory")
	if mime != "image/jpeg" {
		t.Errorf("expected jpeg after downscale, got %s", mime)
	}
	if len(data) == 0 {
		t.Error("expected non-empty re-encoded bytes")
	}
}
