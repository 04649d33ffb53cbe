package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/beaconhq/beacon/internal/loggy"
)

// Compressor shrinks images before they enter the upload queue. Videos are
// never re-encoded on device; they are copied as-is.
type Compressor struct {
	maxDimension int
	jpegQuality  int
	logger       *loggy.Logger
}

// NewCompressor creates a compressor bounding images to maxDimension pixels
// on their longest edge, re-encoded as JPEG at the given quality
func NewCompressor(maxDimension, jpegQuality int, logger *loggy.Logger) *Compressor {
	return &Compressor{
		maxDimension: maxDimension,
		jpegQuality:  jpegQuality,
		logger:       logger,
	}
}

// Process writes a queue-ready copy of src to dst. Images are resized and
// re-encoded; anything that fails to decode falls back to a plain copy so
// a corrupt or exotic file still syncs in its original form.
func (c *Compressor) Process(src, dst string, kind Kind) error {
	if kind != KindImage {
		return copyFile(src, dst)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		c.logger.Warn("Image decode failed, copying original", "path", src, "error", err)
		return copyFile(src, dst)
	}

	bounds := img.Bounds()
	if bounds.Dx() > c.maxDimension || bounds.Dy() > c.maxDimension {
		img = imaging.Fit(img, c.maxDimension, c.maxDimension, imaging.Lanczos)
	}

	if err := imaging.Save(img, dst, imaging.JPEGQuality(c.jpegQuality)); err != nil {
		return fmt.Errorf("saving compressed image: %w", err)
	}

	return nil
}

// DestName returns the stored filename for a queued media item. Compressed
// images always end in .jpg; everything else keeps its original extension.
func DestName(id, src string, kind Kind) string {
	if kind == KindImage {
		return id + ".jpg"
	}

	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".bin"
	}
	return id + ext
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying file: %w", err)
	}

	return out.Sync()
}
