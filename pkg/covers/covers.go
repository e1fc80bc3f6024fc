package covers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/png"

	"github.com/komikan/komikan/pkg/cbz"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/models"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ThumbWidth is the width thumbnails are scaled to. Height follows the source
// aspect ratio.
const ThumbWidth = 400

const thumbJPEGQuality = 85

// Extractor produces cover thumbnails for catalog files. It is the handler
// side of the cover job queue: extraction must be idempotent because a
// recovered job can be handed the same file twice.
type Extractor struct {
	cacheDir    string
	fileService *files.Service
}

func NewExtractor(cacheDir string, fileService *files.Service) *Extractor {
	return &Extractor{
		cacheDir:    cacheDir,
		fileService: fileService,
	}
}

// ExtractFile extracts the cover image from the file's archive, scales it, and
// persists the thumbnail path on the file record. An existing thumbnail is
// overwritten in place, which is what makes re-delivery of a recovered job
// safe.
func (e *Extractor) ExtractFile(ctx context.Context, file *models.File) error {
	metadata, err := cbz.Parse(file.Filepath)
	if err != nil {
		return errors.Wrap(err, "failed to parse archive")
	}
	if len(metadata.CoverData) == 0 {
		return errors.New("archive has no cover image")
	}

	thumb, err := Thumbnail(metadata.CoverData, ThumbWidth)
	if err != nil {
		return errors.Wrap(err, "failed to generate thumbnail")
	}

	thumbPath := e.ThumbPath(file.ID)
	if err := writeFileAtomic(thumbPath, thumb); err != nil {
		return errors.Wrap(err, "failed to write thumbnail")
	}

	file.CoverThumbPath = &thumbPath
	err = e.fileService.UpdateFile(ctx, file, files.UpdateFileOptions{
		Columns: []string{"cover_thumb_path"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ThumbPath returns the cache path of a file's thumbnail. It is deterministic
// per file so that repeated extraction overwrites rather than accumulates.
func (e *Extractor) ThumbPath(fileID int) string {
	return filepath.Join(e.cacheDir, fmt.Sprintf("%d.jpg", fileID))
}

// Thumbnail scales the image data down to the given width and re-encodes it as
// JPEG. Images already narrower than the target width are re-encoded without
// scaling.
func Thumbnail(data []byte, width int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode cover image")
	}

	bounds := src.Bounds()
	if bounds.Dx() > width {
		height := bounds.Dy() * width / bounds.Dx()
		// Sources wider than width*Dy round down to zero; the encoder needs
		// at least one row.
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	buf := &bytes.Buffer{}
	err = jpeg.Encode(buf, src, &jpeg.Options{Quality: thumbJPEGQuality})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return buf.Bytes(), nil
}

// writeFileAtomic writes through a temp file and renames so that a crash
// mid-write never leaves a truncated thumbnail behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}
