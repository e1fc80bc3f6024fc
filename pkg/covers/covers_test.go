package covers

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/migrations"
	"github.com/komikan/komikan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func writeTestCBZ(t *testing.T, path string, coverData []byte) {
	t.Helper()

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("page-001.png")
	require.NoError(t, err)
	_, err = f.Write(coverData)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func createTestFile(t *testing.T, db *bun.DB, path string) *models.File {
	t.Helper()
	ctx := context.Background()

	library := &models.Library{Name: "Comics", RootPath: filepath.Dir(path), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(library).Exec(ctx)
	require.NoError(t, err)

	fileService := files.NewService(db)
	file := &models.File{
		LibraryID:      library.ID,
		Filepath:       path,
		RelativePath:   filepath.Base(path),
		FileType:       models.FileTypeCBZ,
		Status:         models.FileStatusIndexed,
		FilesizeBytes:  1,
		FileModifiedAt: time.Now(),
	}
	require.NoError(t, fileService.CreateFile(ctx, file))
	return file
}

func TestThumbnail_ScalesDown(t *testing.T) {
	t.Parallel()

	data := testPNG(t, 800, 1200)
	thumb, err := Thumbnail(data, ThumbWidth)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, ThumbWidth, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestThumbnail_KeepsSmallImages(t *testing.T) {
	t.Parallel()

	data := testPNG(t, 200, 300)
	thumb, err := Thumbnail(data, ThumbWidth)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestThumbnail_ExtremeAspectRatio(t *testing.T) {
	t.Parallel()

	// Scaling a 2000x2 banner to width 400 rounds the height down to zero;
	// the thumbnail still has to carry at least one row.
	data := testPNG(t, 2000, 2)
	thumb, err := Thumbnail(data, ThumbWidth)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, ThumbWidth, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
}

func TestThumbnail_InvalidData(t *testing.T) {
	t.Parallel()

	_, err := Thumbnail([]byte("not an image"), ThumbWidth)
	assert.Error(t, err)
}

func TestExtractFile(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	cacheDir := t.TempDir()
	ctx := context.Background()

	path := filepath.Join(dir, "Batman 001.cbz")
	writeTestCBZ(t, path, testPNG(t, 800, 1200))
	file := createTestFile(t, db, path)

	fileService := files.NewService(db)
	extractor := NewExtractor(cacheDir, fileService)

	require.NoError(t, extractor.ExtractFile(ctx, file))

	require.NotNil(t, file.CoverThumbPath)
	assert.Equal(t, extractor.ThumbPath(file.ID), *file.CoverThumbPath)

	stats, err := os.Stat(*file.CoverThumbPath)
	require.NoError(t, err)
	assert.Greater(t, stats.Size(), int64(0))

	// The path is persisted on the record.
	stored, err := fileService.RetrieveFile(ctx, files.RetrieveFileOptions{ID: &file.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.CoverThumbPath)
	assert.Equal(t, *file.CoverThumbPath, *stored.CoverThumbPath)
}

func TestExtractFile_Idempotent(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	cacheDir := t.TempDir()
	ctx := context.Background()

	path := filepath.Join(dir, "Batman 001.cbz")
	writeTestCBZ(t, path, testPNG(t, 800, 1200))
	file := createTestFile(t, db, path)

	fileService := files.NewService(db)
	extractor := NewExtractor(cacheDir, fileService)

	// Re-delivery of a recovered job runs extraction twice; the second run
	// overwrites in place.
	require.NoError(t, extractor.ExtractFile(ctx, file))
	first := *file.CoverThumbPath
	require.NoError(t, extractor.ExtractFile(ctx, file))
	assert.Equal(t, first, *file.CoverThumbPath)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtractFile_MissingArchive(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	cacheDir := t.TempDir()
	ctx := context.Background()

	path := filepath.Join(dir, "gone.cbz")
	writeTestCBZ(t, path, testPNG(t, 100, 100))
	file := createTestFile(t, db, path)
	require.NoError(t, os.Remove(path))

	fileService := files.NewService(db)
	extractor := NewExtractor(cacheDir, fileService)

	err := extractor.ExtractFile(ctx, file)
	assert.Error(t, err)
	assert.Nil(t, file.CoverThumbPath)
}
