package scanner

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/komikan/komikan/pkg/cache"
	"github.com/komikan/komikan/pkg/config"
	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/libraries"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/komikan/komikan/pkg/queue"
	"github.com/komikan/komikan/pkg/series"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// cancelCheckInterval is how many files the parallel stages hand to their
// workers between cancellation polls. Resolution polls per name and metadata
// per batch instead.
const cancelCheckInterval = 100

// Scanner runs the library scan pipeline: discovery, metadata extraction,
// series resolution, and linking, in that order. Discovery, metadata, and
// linking fan out across files; series resolution is deliberately sequential
// because it is the stage that creates series identities.
type Scanner struct {
	config *config.Config
	log    logger.Logger

	scanJobService  *Service
	libraryService  *libraries.Service
	fileService     *files.Service
	seriesService   *series.Service
	coverJobService *queue.Service

	broadcaster *progress.Broadcaster
	viewCache   *cache.Cache
}

func New(cfg *config.Config, db *bun.DB, broadcaster *progress.Broadcaster, viewCache *cache.Cache) *Scanner {
	return &Scanner{
		config: cfg,
		log:    logger.New(),

		scanJobService:  NewService(db),
		libraryService:  libraries.NewService(db),
		fileService:     files.NewService(db),
		seriesService:   series.NewService(db),
		coverJobService: queue.NewService(db),

		broadcaster: broadcaster,
		viewCache:   viewCache,
	}
}

// StartScan begins a scan of the library, or returns the already-active scan
// job when one exists. The bool reports whether a new scan was started.
func (s *Scanner) StartScan(ctx context.Context, libraryID int, data *models.ScanJobData) (*models.ScanJob, bool, error) {
	if _, err := s.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: &libraryID}); err != nil {
		return nil, false, errors.WithStack(err)
	}

	active, err := s.scanJobService.ActiveScanJob(ctx, libraryID)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	if active != nil {
		return active, false, nil
	}

	if data == nil {
		data = &models.ScanJobData{}
	}
	if data.BatchSize == 0 {
		data.BatchSize = s.config.ScanBatchSize
	}

	job := &models.ScanJob{
		LibraryID:  libraryID,
		Status:     models.ScanJobStatusPending,
		DataParsed: data,
	}
	if err := s.scanJobService.CreateScanJob(ctx, job); err != nil {
		return nil, false, errors.WithStack(err)
	}

	go s.run(job.ID)

	return job, true, nil
}

// Cancel requests cancellation of an active scan. The pipeline honors it at
// the next stage boundary, so the job keeps the stage results accumulated so
// far.
func (s *Scanner) Cancel(ctx context.Context, id int) (*models.ScanJob, error) {
	job, err := s.scanJobService.RetrieveScanJob(ctx, RetrieveScanJobOptions{ID: &id})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if models.ScanJobTerminal(job.Status) {
		return nil, errcodes.Conflict("The scan job has already finished.")
	}

	job.Status = models.ScanJobStatusCancelled
	err = s.scanJobService.UpdateScanJob(ctx, job, UpdateScanJobOptions{
		Columns: []string{"status"},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (s *Scanner) run(jobID int) {
	id, err := uuid.NewRandom()
	if err != nil {
		s.log.Err(err).Error("new uuid error")
		return
	}
	log := s.log.ID(id.String()).Root(logger.Data{"scan_job_id": jobID})
	ctx := log.WithContext(context.Background())

	job, err := s.scanJobService.RetrieveScanJob(ctx, RetrieveScanJobOptions{ID: &jobID})
	if err != nil {
		log.Err(err).Error("retrieve scan job error")
		return
	}
	log = log.Data(logger.Data{"library_id": job.LibraryID})

	library, err := s.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: &job.LibraryID})
	if err != nil {
		s.finishWithError(ctx, job, err)
		return
	}

	job.Status = models.ScanJobStatusRunning
	if err := s.persist(ctx, job); err != nil {
		log.Err(err).Error("update scan job error")
		return
	}

	log.Info("scan started")

	stages := []struct {
		name string
		fn   func(context.Context, *models.ScanJob, *models.Library) error
	}{
		{"discovery", s.runDiscovery},
		{"metadata", s.runMetadata},
		{"series", s.runResolution},
		{"linking", s.runLinking},
	}

	for _, stage := range stages {
		cancelled, err := s.isCancelled(ctx, job.ID)
		if err != nil {
			log.Err(err).Error("retrieve scan job error")
			return
		}
		if cancelled {
			// Keep the results of the stages that already ran.
			job.Status = models.ScanJobStatusCancelled
			if err := s.persist(ctx, job); err != nil {
				log.Err(err).Error("update scan job error")
			}
			log.Info("scan cancelled")
			return
		}

		if err := stage.fn(ctx, job, library); err != nil {
			log.Data(logger.Data{"stage": stage.name}).Err(err).Error("scan stage error")
			s.finishWithError(ctx, job, err)
			return
		}

		// Persist stage results incrementally so that status polling shows
		// partial progress while later stages run. Only the data column is
		// written here; a cancellation that landed while the stage ran must
		// not be flipped back to running.
		if err := s.persistData(ctx, job); err != nil {
			log.Err(err).Error("update scan job error")
			return
		}
	}

	cancelled, err := s.isCancelled(ctx, job.ID)
	if err != nil {
		log.Err(err).Error("retrieve scan job error")
		return
	}
	if cancelled {
		job.Status = models.ScanJobStatusCancelled
		if err := s.persist(ctx, job); err != nil {
			log.Err(err).Error("update scan job error")
		}
		log.Info("scan cancelled")
		return
	}

	if err := s.enqueueCoverJobs(ctx, job); err != nil {
		s.finishWithError(ctx, job, err)
		return
	}

	s.viewCache.InvalidateByEntity(series.LibraryEntityKey(job.LibraryID), series.CacheFamily)

	job.Status = models.ScanJobStatusComplete
	if err := s.persist(ctx, job); err != nil {
		log.Err(err).Error("update scan job error")
		return
	}
	log.Info("scan complete")
}

func (s *Scanner) persist(ctx context.Context, job *models.ScanJob) error {
	return s.scanJobService.UpdateScanJob(ctx, job, UpdateScanJobOptions{
		Columns: []string{"status", "data"},
	})
}

// persistData writes only the accumulated stage results. Status is owned by
// the transition writers (run, Cancel, finishWithError), so mid-pipeline
// persists must never touch it.
func (s *Scanner) persistData(ctx context.Context, job *models.ScanJob) error {
	return s.scanJobService.UpdateScanJob(ctx, job, UpdateScanJobOptions{
		Columns: []string{"data"},
	})
}

func (s *Scanner) isCancelled(ctx context.Context, jobID int) (bool, error) {
	current, err := s.scanJobService.RetrieveScanJob(ctx, RetrieveScanJobOptions{ID: &jobID})
	if err != nil {
		return false, errors.WithStack(err)
	}
	return current.Status == models.ScanJobStatusCancelled, nil
}

func (s *Scanner) finishWithError(ctx context.Context, job *models.ScanJob, cause error) {
	job.Status = models.ScanJobStatusError
	job.DataParsed.Error = cause.Error()
	if err := s.persist(ctx, job); err != nil {
		logger.FromContext(ctx).Err(err).Error("update scan job error")
	}
}

// enqueueCoverJobs groups the library's files that still need thumbnails by
// folder and records one durable cover job per folder. The jobs are stored
// before the queue runtime sees them, so a crash after this point re-dispatches
// rather than loses them.
func (s *Scanner) enqueueCoverJobs(ctx context.Context, job *models.ScanJob) error {
	log := logger.FromContext(ctx)

	indexed, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &job.LibraryID,
		Statuses:  []string{models.FileStatusIndexed},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	byFolder := map[string][]int{}
	folders := []string{}
	for _, file := range indexed {
		if file.CoverThumbPath != nil {
			continue
		}
		folder := filepath.Dir(file.Filepath)
		if _, ok := byFolder[folder]; !ok {
			folders = append(folders, folder)
		}
		byFolder[folder] = append(byFolder[folder], file.ID)
	}

	for _, folder := range folders {
		coverJob := &models.CoverJob{
			LibraryID:     job.LibraryID,
			FolderPath:    folder,
			FileIDsParsed: byFolder[folder],
		}
		if err := s.coverJobService.CreateCoverJob(ctx, coverJob); err != nil {
			return errors.WithStack(err)
		}
	}

	if len(folders) > 0 {
		log.Info("enqueued cover jobs", logger.Data{"count": len(folders)})
	}

	return nil
}
