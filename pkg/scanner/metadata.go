package scanner

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/komikan/komikan/pkg/cbz"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// runMetadata extracts archive metadata for every pending file and writes the
// raw series name into the staging field that the resolution stage reads.
// Files fan out across workers in batches; an unreadable archive is
// quarantined and counted as an error rather than failing the stage. A batch
// in which no file reached a new state means the store is rejecting writes,
// and the stage aborts rather than refetching the same files forever.
func (s *Scanner) runMetadata(ctx context.Context, job *models.ScanJob, library *models.Library) error {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &models.StageResult{}
	job.DataParsed.Metadata = result

	batchSize := job.DataParsed.BatchSize

	for {
		cancelled, err := s.isCancelled(ctx, job.ID)
		if err != nil {
			return errors.WithStack(err)
		}
		if cancelled {
			break
		}

		// Each extraction fills series_name_raw or quarantines the file, so
		// the next batch query naturally advances.
		batch, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
			LibraryID:     &job.LibraryID,
			Statuses:      []string{models.FileStatusPending},
			NeedsMetadata: true,
			Limit:         &batchSize,
		})
		if err != nil {
			return errors.WithStack(err)
		}
		if len(batch) == 0 {
			break
		}

		var mu sync.Mutex
		var firstErr error
		advanced := 0

		queue := make(chan *models.File)
		var wg sync.WaitGroup
		for i := 0; i < s.config.ScanConcurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for file := range queue {
					ok, err := s.extractMetadata(ctx, library, file)
					mu.Lock()
					if err != nil {
						result.Errors++
						if firstErr == nil {
							firstErr = err
						}
						log.Warn("metadata extraction error", logger.Data{"file_id": file.ID, "path": file.Filepath, "error": err.Error()})
					} else {
						result.Processed++
					}
					if ok {
						advanced++
					}
					current := result.Processed + result.Errors
					mu.Unlock()

					s.broadcaster.Publish(progress.Event{
						Phase:     "metadata",
						LibraryID: job.LibraryID,
						JobID:     job.ID,
						Current:   current,
						Detail:    file.Filepath,
					})
				}
			}()
		}
		for _, file := range batch {
			queue <- file
		}
		close(queue)
		wg.Wait()

		if advanced == 0 {
			return errors.Wrap(firstErr, "metadata stage made no progress")
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	log.Info("metadata extraction finished", logger.Data{"processed": result.Processed, "errors": result.Errors})

	return nil
}

// extractMetadata parses the archive and persists what it found. The bool
// reports whether the file reached a new state: a successful write or a
// successful quarantine advances it, a failed store write leaves it pending
// with the staging field still empty.
func (s *Scanner) extractMetadata(ctx context.Context, library *models.Library, file *models.File) (bool, error) {
	metadata, err := cbz.Parse(file.Filepath)
	if err != nil {
		// The archive can't be read; park the file so it isn't retried every
		// scan until its content changes.
		file.Status = models.FileStatusQuarantined
		if updateErr := s.fileService.UpdateFile(ctx, file, files.UpdateFileOptions{
			Columns: []string{"status"},
		}); updateErr != nil {
			return false, errors.WithStack(updateErr)
		}
		return true, errors.WithStack(err)
	}

	title := metadata.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(file.Filepath), filepath.Ext(file.Filepath))
	}

	seriesName := metadata.Series
	metadataSource := models.DataSourceCBZMetadata
	if seriesName == "" {
		seriesName = seriesNameFromFolder(library.RootPath, file.Filepath)
		metadataSource = models.DataSourceFolder
	}
	if seriesName == "" {
		seriesName = seriesNameFromFilename(file.Filepath)
		metadataSource = models.DataSourceFilename
	}

	file.Title = &title
	file.IssueNumber = metadata.IssueNumber
	file.SeriesNameRaw = &seriesName
	file.MetadataSource = &metadataSource
	if metadata.PageCount > 0 {
		file.PageCount = &metadata.PageCount
	}
	if metadata.Publisher != "" {
		file.PublisherRaw = &metadata.Publisher
	} else {
		file.PublisherRaw = nil
	}

	err = s.fileService.UpdateFile(ctx, file, files.UpdateFileOptions{
		Columns: []string{"title", "issue_number", "page_count", "series_name_raw", "publisher_raw", "metadata_source"},
	})
	if err != nil {
		return false, errors.WithStack(err)
	}

	return true, nil
}
