package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/komikan/komikan/pkg/cache"
	"github.com/komikan/komikan/pkg/config"
	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/komikan/komikan/pkg/queue"
	"github.com/komikan/komikan/pkg/series"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newTestScanner(t *testing.T, db *bun.DB) *Scanner {
	t.Helper()

	cfg := &config.Config{
		CacheTTL:        time.Minute,
		ScanBatchSize:   10,
		ScanConcurrency: 2,
	}
	return New(cfg, db, progress.NewBroadcaster(), cache.New())
}

func writeTestCBZ(t *testing.T, path string, comicInfo string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	imgBuf := &bytes.Buffer{}
	require.NoError(t, png.Encode(imgBuf, img))

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	if comicInfo != "" {
		f, err := w.Create("ComicInfo.xml")
		require.NoError(t, err)
		_, err = f.Write([]byte(comicInfo))
		require.NoError(t, err)
	}
	f, err := w.Create("page-001.png")
	require.NoError(t, err)
	_, err = f.Write(imgBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

const batmanComicInfo = `<?xml version="1.0"?>
<ComicInfo>
	<Series>Batman</Series>
	<Publisher>DC Comics</Publisher>
</ComicInfo>`

// writeTestLibrary lays out two Batman issues with embedded metadata and one
// Superman issue that only has its folder name to go on.
func writeTestLibrary(t *testing.T, root string) {
	t.Helper()

	writeTestCBZ(t, filepath.Join(root, "Batman (2016)", "Batman 001.cbz"), batmanComicInfo)
	writeTestCBZ(t, filepath.Join(root, "Batman (2016)", "Batman 002.cbz"), batmanComicInfo)
	writeTestCBZ(t, filepath.Join(root, "Superman", "Superman 001.cbz"), "")
}

func runStages(t *testing.T, s *Scanner, job *models.ScanJob, library *models.Library) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.runDiscovery(ctx, job, library))
	require.NoError(t, s.runMetadata(ctx, job, library))
	require.NoError(t, s.runResolution(ctx, job, library))
	require.NoError(t, s.runLinking(ctx, job, library))
}

func newScanJob(t *testing.T, s *Scanner, libraryID int) *models.ScanJob {
	t.Helper()

	job := &models.ScanJob{
		LibraryID:  libraryID,
		DataParsed: &models.ScanJobData{BatchSize: 10},
	}
	require.NoError(t, s.scanJobService.CreateScanJob(context.Background(), job))
	return job
}

func TestScanPipeline(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	job := newScanJob(t, s, library.ID)
	runStages(t, s, job, library)

	require.NotNil(t, job.DataParsed.Discovery)
	assert.Equal(t, 3, job.DataParsed.Discovery.New)
	assert.Zero(t, job.DataParsed.Discovery.Errors)

	require.NotNil(t, job.DataParsed.Metadata)
	assert.Equal(t, 3, job.DataParsed.Metadata.Processed)

	// Two distinct raw names resolve to two series.
	require.NotNil(t, job.DataParsed.Series)
	assert.Equal(t, 2, job.DataParsed.Series.Created)
	assert.Zero(t, job.DataParsed.Series.Existing)

	require.NotNil(t, job.DataParsed.Linking)
	assert.Equal(t, 3, job.DataParsed.Linking.Processed)
	assert.Zero(t, job.DataParsed.Linking.Errors)

	listed, err := s.seriesService.ListSeries(ctx, series.ListSeriesOptions{LibraryID: &library.ID})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "Batman", listed[0].Name)
	assert.Equal(t, models.DataSourceCBZMetadata, listed[0].NameSource)
	require.NotNil(t, listed[0].Publisher)
	assert.Equal(t, "DC Comics", *listed[0].Publisher)
	assert.Equal(t, "Superman", listed[1].Name)
	assert.Equal(t, models.DataSourceFolder, listed[1].NameSource)

	indexed, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &library.ID,
		Statuses:  []string{models.FileStatusIndexed},
	})
	require.NoError(t, err)
	require.Len(t, indexed, 3)
	for _, file := range indexed {
		assert.NotNil(t, file.ResolvedSeriesID)
	}
}

func TestScanPipeline_SecondScanIsUnchanged(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	first := newScanJob(t, s, library.ID)
	runStages(t, s, first, library)

	second := newScanJob(t, s, library.ID)
	runStages(t, s, second, library)

	assert.Zero(t, second.DataParsed.Discovery.New)
	assert.Zero(t, second.DataParsed.Discovery.Modified)
	assert.Equal(t, 3, second.DataParsed.Discovery.Unchanged)
	assert.Zero(t, second.DataParsed.Metadata.Processed)
	assert.Zero(t, second.DataParsed.Series.Created)
	assert.Zero(t, second.DataParsed.Linking.Processed)
}

func TestScanPipeline_ModifiedFileRescans(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	first := newScanJob(t, s, library.ID)
	runStages(t, s, first, library)

	// Rewrite one archive with a new mtime.
	modified := filepath.Join(root, "Batman (2016)", "Batman 001.cbz")
	writeTestCBZ(t, modified, batmanComicInfo)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(modified, future, future))

	second := newScanJob(t, s, library.ID)
	runStages(t, s, second, library)

	assert.Equal(t, 1, second.DataParsed.Discovery.Modified)
	assert.Equal(t, 2, second.DataParsed.Discovery.Unchanged)
	assert.Equal(t, 1, second.DataParsed.Metadata.Processed)
	// The identity already exists, so resolution reports it as existing.
	assert.Zero(t, second.DataParsed.Series.Created)
	assert.Equal(t, 1, second.DataParsed.Series.Existing)
	assert.Equal(t, 1, second.DataParsed.Linking.Processed)
}

func TestScanPipeline_ForceFullScan(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	first := newScanJob(t, s, library.ID)
	runStages(t, s, first, library)

	second := &models.ScanJob{
		LibraryID:  library.ID,
		DataParsed: &models.ScanJobData{ForceFullScan: true, BatchSize: 10},
	}
	require.NoError(t, s.scanJobService.CreateScanJob(context.Background(), second))
	runStages(t, s, second, library)

	assert.Equal(t, 3, second.DataParsed.Discovery.Modified)
	assert.Equal(t, 3, second.DataParsed.Metadata.Processed)
}

func TestScanPipeline_OrphansMissingFiles(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	first := newScanJob(t, s, library.ID)
	runStages(t, s, first, library)

	removed := filepath.Join(root, "Superman", "Superman 001.cbz")
	require.NoError(t, os.Remove(removed))

	second := newScanJob(t, s, library.ID)
	runStages(t, s, second, library)

	assert.Equal(t, 1, second.DataParsed.Discovery.Orphaned)

	orphaned, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &library.ID,
		Statuses:  []string{models.FileStatusOrphaned},
	})
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, removed, orphaned[0].Filepath)
}

func TestScanPipeline_QuarantinesUnreadableArchive(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	library := createTestLibrary(t, db, root)

	// A zip container whose content can't be parsed still passes discovery's
	// mime check, then fails metadata extraction.
	path := filepath.Join(root, "Broken", "Broken 001.cbz")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("page-001.png")
	require.NoError(t, err)
	_, err = f.Write([]byte("png data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	data := buf.Bytes()
	// Corrupt the central directory.
	data = data[:len(data)-4]
	require.NoError(t, os.WriteFile(path, data, 0o644))

	job := newScanJob(t, s, library.ID)
	require.NoError(t, s.runDiscovery(ctx, job, library))
	require.NoError(t, s.runMetadata(ctx, job, library))

	assert.Equal(t, 1, job.DataParsed.Discovery.New)
	assert.Equal(t, 1, job.DataParsed.Metadata.Errors)

	quarantined, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &library.ID,
		Statuses:  []string{models.FileStatusQuarantined},
	})
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
}

func TestScanPipeline_EnqueuesCoverJobsPerFolder(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	job := newScanJob(t, s, library.ID)
	runStages(t, s, job, library)
	require.NoError(t, s.enqueueCoverJobs(ctx, job))

	jobs, err := s.coverJobService.ListCoverJobs(ctx, queue.ListCoverJobsOptions{})
	require.NoError(t, err)

	require.Len(t, jobs, 2)
	byFolder := map[string]int{}
	for _, coverJob := range jobs {
		byFolder[coverJob.FolderPath] = coverJob.TotalFiles
		assert.Equal(t, models.CoverJobStatusPending, coverJob.Status)
	}
	assert.Equal(t, 2, byFolder[filepath.Join(root, "Batman (2016)")])
	assert.Equal(t, 1, byFolder[filepath.Join(root, "Superman")])
}

func TestStartScan_ReturnsActiveScan(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	library := createTestLibrary(t, db, t.TempDir())

	existing := &models.ScanJob{LibraryID: library.ID, DataParsed: &models.ScanJobData{}}
	require.NoError(t, s.scanJobService.CreateScanJob(ctx, existing))

	job, created, err := s.StartScan(ctx, library.ID, nil)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, existing.ID, job.ID)
}

func TestStartScan_LibraryNotFound(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()

	_, _, err := s.StartScan(ctx, 42, nil)
	assert.True(t, errors.Is(err, errcodes.NotFound("Library")))
}

func TestCancel_SurvivesStageBoundaryPersist(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	job := newScanJob(t, s, library.ID)
	job.Status = models.ScanJobStatusRunning
	require.NoError(t, s.persist(ctx, job))

	// The cancel lands while a stage is in flight; the stage-boundary persist
	// that follows must not flip the status back to running.
	_, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, s.runDiscovery(ctx, job, library))
	require.NoError(t, s.persistData(ctx, job))

	cancelled, err := s.isCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	stored, err := s.scanJobService.RetrieveScanJob(ctx, RetrieveScanJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ScanJobStatusCancelled, stored.Status)
}

func TestRunMetadata_AbortsWhenStoreWritesFail(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	job := newScanJob(t, s, library.ID)
	require.NoError(t, s.runDiscovery(ctx, job, library))

	// Every file write is rejected from here on, so no file can reach a new
	// state and the stage must abort instead of refetching the same batch.
	_, err := db.Exec(`
		CREATE TRIGGER files_updates_rejected BEFORE UPDATE ON files
		BEGIN
			SELECT RAISE(ABORT, 'files updates rejected');
		END`)
	require.NoError(t, err)

	err = s.runMetadata(ctx, job, library)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata stage made no progress")
}

func TestRunDiscovery_CancelledJobProcessesNothing(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	first := newScanJob(t, s, library.ID)
	runStages(t, s, first, library)

	removed := filepath.Join(root, "Superman", "Superman 001.cbz")
	require.NoError(t, os.Remove(removed))

	second := newScanJob(t, s, library.ID)
	_, err := s.Cancel(ctx, second.ID)
	require.NoError(t, err)

	require.NoError(t, s.runDiscovery(ctx, second, library))

	assert.Zero(t, second.DataParsed.Discovery.New)
	assert.Zero(t, second.DataParsed.Discovery.Unchanged)
	// The walk never finished, so the incomplete seen set must not orphan
	// the file that vanished.
	assert.Zero(t, second.DataParsed.Discovery.Orphaned)

	stored, err := s.fileService.RetrieveFile(ctx, files.RetrieveFileOptions{Filepath: &removed})
	require.NoError(t, err)
	assert.NotEqual(t, models.FileStatusOrphaned, stored.Status)
}

func TestRunLinking_CancelledJobProcessesNothing(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	job := newScanJob(t, s, library.ID)
	require.NoError(t, s.runDiscovery(ctx, job, library))
	require.NoError(t, s.runMetadata(ctx, job, library))
	require.NoError(t, s.runResolution(ctx, job, library))

	_, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, s.runLinking(ctx, job, library))

	assert.Zero(t, job.DataParsed.Linking.Processed)

	pending, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &library.ID,
		Statuses:  []string{models.FileStatusPending},
	})
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestCancel_StopsStages(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db)
	ctx := context.Background()
	root := t.TempDir()
	writeTestLibrary(t, root)
	library := createTestLibrary(t, db, root)

	job := newScanJob(t, s, library.ID)
	require.NoError(t, s.runDiscovery(ctx, job, library))

	cancelled, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanJobStatusCancelled, cancelled.Status)

	// Later stages see the cancellation and do nothing.
	require.NoError(t, s.runMetadata(ctx, job, library))
	assert.Zero(t, job.DataParsed.Metadata.Processed)

	// Cancelling again conflicts.
	_, err = s.Cancel(ctx, job.ID)
	require.Error(t, err)
	codeErr := &errcodes.Error{}
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, 409, codeErr.HTTPCode)
}
