package scanner

import (
	"context"
	"time"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// runResolution turns distinct raw series names into series records, one name
// at a time. This stage is the only writer of series identities during a
// scan, and processing names sequentially in lexicographic order is what
// guarantees exactly one series per identity key without locking.
func (s *Scanner) runResolution(ctx context.Context, job *models.ScanJob, library *models.Library) error {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &models.StageResult{}
	job.DataParsed.Series = result

	names, err := s.fileService.DistinctUnresolvedSeriesNames(ctx, job.LibraryID)
	if err != nil {
		return errors.WithStack(err)
	}

	for i, name := range names {
		cancelled, err := s.isCancelled(ctx, job.ID)
		if err != nil {
			return errors.WithStack(err)
		}
		if cancelled {
			break
		}

		// The first file by path seeds the publisher and name source for a
		// newly created series.
		seed, err := s.fileService.FirstFileForSeriesName(ctx, job.LibraryID, name)
		if err != nil {
			if errors.Is(err, errcodes.NotFound("File")) {
				continue
			}
			return errors.WithStack(err)
		}

		nameSource := models.DataSourceFilename
		if seed.MetadataSource != nil {
			nameSource = *seed.MetadataSource
		}

		sr := &models.Series{
			LibraryID:  job.LibraryID,
			Name:       name,
			NameSource: nameSource,
			Publisher:  seed.PublisherRaw,
		}
		created, err := s.seriesService.ResolveSeries(ctx, sr)
		if err != nil {
			result.Errors++
			log.Warn("series resolution error", logger.Data{"name": name, "error": err.Error()})
			continue
		}

		result.Processed++
		if created {
			result.Created++
		} else {
			result.Existing++
		}

		s.broadcaster.Publish(progress.Event{
			Phase:     "series",
			LibraryID: job.LibraryID,
			JobID:     job.ID,
			Current:   i + 1,
			Total:     len(names),
			Detail:    name,
		})
	}

	result.DurationMS = time.Since(start).Milliseconds()
	log.Info("series resolution finished", logger.Data{"processed": result.Processed, "created": result.Created, "existing": result.Existing, "errors": result.Errors})

	return nil
}
