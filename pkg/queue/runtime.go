package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/komikan/komikan/pkg/config"
	"github.com/komikan/komikan/pkg/covers"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// Runtime drives the cover job queue: it recovers interrupted jobs on startup,
// fetches pending jobs on an interval, and extracts covers under a resizable
// concurrency limit.
type Runtime struct {
	config *config.Config
	log    logger.Logger

	jobService  *Service
	fileService *files.Service
	extractor   *covers.Extractor
	broadcaster *progress.Broadcaster

	sem *Semaphore

	shutdown     chan struct{}
	doneFetching chan struct{}
	wg           sync.WaitGroup
}

func NewRuntime(cfg *config.Config, db *bun.DB, broadcaster *progress.Broadcaster) *Runtime {
	fileService := files.NewService(db)

	return &Runtime{
		config: cfg,
		log:    logger.New(),

		jobService:  NewService(db),
		fileService: fileService,
		extractor:   covers.NewExtractor(cfg.CoverCacheDir, fileService),
		broadcaster: broadcaster,

		sem: NewSemaphore(cfg.CoverWorkers),

		shutdown:     make(chan struct{}),
		doneFetching: make(chan struct{}),
	}
}

// Start recovers jobs that were mid-flight when the previous process died and
// then begins fetching.
func (r *Runtime) Start() error {
	n, err := r.jobService.ResetProcessing(context.Background())
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info("recovered interrupted cover jobs", logger.Data{"count": n})
	}

	go r.fetchJobs()

	return nil
}

// SetLowPriority toggles the reduced concurrency limit. The resize applies to
// the live pool: extractions already running finish, and new ones are admitted
// under the new limit.
func (r *Runtime) SetLowPriority(enabled bool) {
	capacity := r.config.CoverWorkers
	if enabled {
		capacity = r.config.CoverWorkersLowPriority
	}
	r.sem.Resize(capacity)
	r.log.Info("resized cover worker pool", logger.Data{"low_priority": enabled, "capacity": capacity})
}

func (r *Runtime) fetchJobs() {
	timer := time.NewTimer(r.config.CoverFetchInterval)

	for {
		select {
		case <-r.shutdown:
			// We're shutting down, so stop dispatching more jobs.
			r.doneFetching <- struct{}{}
			return
		case <-timer.C:
			r.dispatchReady()
			timer.Reset(r.config.CoverFetchInterval)
		}
	}
}

// dispatchReady claims pending jobs until the queue is empty or the pool is
// full.
func (r *Runtime) dispatchReady() {
	for {
		if !r.sem.TryAcquire() {
			return
		}

		job, err := r.jobService.ClaimNextPending(context.Background())
		if err != nil {
			r.sem.Release()
			r.log.Err(err).Error("claim cover job error")
			return
		}
		if job == nil {
			r.sem.Release()
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.sem.Release()
			r.process(job)
		}()
	}
}

func (r *Runtime) process(job *models.CoverJob) {
	id, err := uuid.NewRandom()
	if err != nil {
		r.log.Err(err).Error("new uuid error")
		return
	}
	log := r.log.ID(id.String()).Root(logger.Data{"cover_job_id": job.ID, "library_id": job.LibraryID, "folder_path": job.FolderPath})
	ctx := log.WithContext(context.Background())

	// A retry attempt re-runs the whole batch; extraction is idempotent.
	job.ProcessedFiles = 0
	job.FailedFiles = 0

	var lastErr string
	for i, fileID := range job.FileIDsParsed {
		// A cancel request can land while the job is running; honor it between
		// files.
		current, err := r.jobService.RetrieveCoverJob(ctx, RetrieveCoverJobOptions{ID: &job.ID})
		if err != nil {
			log.Err(err).Error("retrieve cover job error")
			return
		}
		if current.Status == models.CoverJobStatusCancelled {
			log.Info("cover job cancelled")
			return
		}

		err = r.extractFile(ctx, fileID)
		if err != nil {
			job.FailedFiles++
			lastErr = err.Error()
			log.Warn("cover extraction error", logger.Data{"file_id": fileID, "error": lastErr})
		} else {
			job.ProcessedFiles++
		}

		err = r.jobService.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
			Columns: []string{"processed_files", "failed_files"},
		})
		if err != nil {
			log.Err(err).Error("update cover job error")
			return
		}

		r.broadcaster.Publish(progress.Event{
			Phase:     "covers",
			LibraryID: job.LibraryID,
			JobID:     job.ID,
			Current:   i + 1,
			Total:     job.TotalFiles,
			Detail:    job.FolderPath,
		})
	}

	// Every file failing means something batch-level is wrong (unreadable
	// folder, missing cache dir), so the whole job is retried. Partial
	// failures stay recorded on the completed job.
	if job.TotalFiles > 0 && job.FailedFiles == job.TotalFiles {
		r.retryOrFail(ctx, log, job, lastErr)
		return
	}

	job.Status = models.CoverJobStatusComplete
	err = r.jobService.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
		Columns: []string{"status", "processed_files", "failed_files"},
	})
	if err != nil {
		log.Err(err).Error("update cover job error")
		return
	}
	log.Info("cover job complete", logger.Data{"processed": job.ProcessedFiles, "failed": job.FailedFiles})
}

func (r *Runtime) extractFile(ctx context.Context, fileID int) error {
	file, err := r.fileService.RetrieveFile(ctx, files.RetrieveFileOptions{ID: &fileID})
	if err != nil {
		return err
	}
	return r.extractor.ExtractFile(ctx, file)
}

// retryOrFail either schedules another attempt after a backoff or marks the
// job permanently failed once the retry ceiling is hit.
func (r *Runtime) retryOrFail(ctx context.Context, log logger.Logger, job *models.CoverJob, lastErr string) {
	job.LastError = &lastErr

	if job.RetryCount >= job.MaxRetries {
		job.Status = models.CoverJobStatusFailed
		err := r.jobService.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
			Columns: []string{"status", "processed_files", "failed_files", "last_error"},
		})
		if err != nil {
			log.Err(err).Error("update cover job error")
			return
		}
		log.Error("cover job permanently failed", logger.Data{"retry_count": job.RetryCount})
		return
	}

	job.RetryCount++
	err := r.jobService.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
		Columns: []string{"retry_count", "last_error"},
	})
	if err != nil {
		log.Err(err).Error("update cover job error")
		return
	}

	delay := retryBackoff(r.config.CoverRetryBaseDelay, job.RetryCount)
	log.Warn("cover job retry scheduled", logger.Data{"retry_count": job.RetryCount, "delay": delay.String()})

	// The job stays in processing during the backoff. If the process dies
	// here, startup recovery flips it back to pending, which only shortens
	// the wait.
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-r.shutdown:
		return
	case <-timer.C:
	}

	job.Status = models.CoverJobStatusPending
	err = r.jobService.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
		Columns: []string{"status"},
	})
	if err != nil {
		log.Err(err).Error("update cover job error")
	}
}

// retryBackoff doubles the base delay per attempt with up to 25% jitter so
// that jobs failing together don't retry together.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// Shutdown stops fetching and waits for in-flight jobs to finish. Jobs caught
// mid-backoff are left in processing and recovered on the next start.
func (r *Runtime) Shutdown() {
	close(r.shutdown)

	<-r.doneFetching
	r.wg.Wait()
}
