package agent

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/san-tian/miniclaw/internal/providers"
)

// maxImageBytes is the safety limit for reading image files (10MB).
const maxImageBytes = 10 * 1024 * 1024

// maxImageDimension bounds the longest side of an image sent to a
// vision-capable model; anything larger is downscaled before encoding so a
// single photo attachment doesn't blow the token budget of a turn.
const maxImageDimension = 1568

// loadImages reads local image files, downscales any that exceed
// maxImageDimension, and returns base64-encoded ImageContent slices.
// Non-image files and files that fail to read are skipped with a warning log.
func loadImages(paths []string) []providers.ImageContent {
	if len(paths) == 0 {
		return nil
	}

	var images []providers.ImageContent
	for _, p := range paths {
		mime := inferImageMime(p)
		if mime == "" {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("vision: failed to read image file", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			slog.Warn("vision: image file too large, skipping", "path", p, "size", len(data))
			continue
		}

		data, mime = downscaleIfNeeded(data, mime, p)

		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

// downscaleIfNeeded fits an oversized image within maxImageDimension on its
// longest side, re-encoding as JPEG. Decode failures fall back to the
// original bytes unchanged rather than dropping the attachment.
func downscaleIfNeeded(data []byte, mime, path string) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("vision: could not decode image for resizing, sending as-is", "path", path, "error", err)
		return data, mime
	}

	b := img.Bounds()
	if b.Dx() <= maxImageDimension && b.Dy() <= maxImageDimension {
		return data, mime
	}

	resized := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		slog.Warn("vision: failed to re-encode resized image, sending original", "path", path, "error", err)
		return data, mime
	}
	return buf.Bytes(), "image/jpeg"
}

// inferImageMime returns the MIME type for supported image extensions, or "" if not an image.
func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
