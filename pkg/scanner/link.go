package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/komikan/komikan/pkg/series"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// runLinking attaches every staged file to the series its identity key points
// at. Every key was either created or confirmed by the resolution stage, so
// this stage only reads series and can safely fan out across workers.
func (s *Scanner) runLinking(ctx context.Context, job *models.ScanJob, library *models.Library) error {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &models.StageResult{}
	job.DataParsed.Linking = result

	unlinked, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID:    &job.LibraryID,
		Statuses:     []string{models.FileStatusPending},
		NeedsLinking: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	var mu sync.Mutex
	processed := 0

	queue := make(chan *models.File)
	var wg sync.WaitGroup
	for i := 0; i < s.config.ScanConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range queue {
				err := s.linkFile(ctx, job.LibraryID, file)
				mu.Lock()
				if err != nil {
					result.Errors++
					log.Warn("linking error", logger.Data{"file_id": file.ID, "path": file.Filepath, "error": err.Error()})
				} else {
					result.Processed++
				}
				processed++
				current := processed
				mu.Unlock()

				s.broadcaster.Publish(progress.Event{
					Phase:     "linking",
					LibraryID: job.LibraryID,
					JobID:     job.ID,
					Current:   current,
					Total:     len(unlinked),
					Detail:    file.Filepath,
				})
			}
		}()
	}
	for i, file := range unlinked {
		if i%cancelCheckInterval == 0 {
			cancelled, err := s.isCancelled(ctx, job.ID)
			if err != nil {
				close(queue)
				wg.Wait()
				return errors.WithStack(err)
			}
			if cancelled {
				break
			}
		}
		queue <- file
	}
	close(queue)
	wg.Wait()

	result.DurationMS = time.Since(start).Milliseconds()
	log.Info("linking finished", logger.Data{"processed": result.Processed, "errors": result.Errors})

	return nil
}

func (s *Scanner) linkFile(ctx context.Context, libraryID int, file *models.File) error {
	publisher := ""
	if file.PublisherRaw != nil {
		publisher = *file.PublisherRaw
	}
	identityKey := models.SeriesIdentityKey(*file.SeriesNameRaw, publisher)

	sr, err := s.seriesService.RetrieveSeries(ctx, series.RetrieveSeriesOptions{
		IdentityKey: &identityKey,
		LibraryID:   &libraryID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	file.ResolvedSeriesID = &sr.ID
	file.Status = models.FileStatusIndexed
	err = s.fileService.UpdateFile(ctx, file, files.UpdateFileOptions{
		Columns: []string{"resolved_series_id", "status"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
