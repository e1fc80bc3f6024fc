package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveCoverJobOptions struct {
	ID *int
}

type ListCoverJobsOptions struct {
	Limit    *int
	Offset   *int
	Statuses []string

	includeTotal bool
}

type UpdateCoverJobOptions struct {
	Columns []string
}

// StatusCounts is the queue-level view of how many jobs sit in each state.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CreateCoverJob durably records the job before any worker can see it. A
// crash after this call results in re-dispatch on restart, not loss.
func (svc *Service) CreateCoverJob(ctx context.Context, job *models.CoverJob) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	if job.Status == "" {
		job.Status = models.CoverJobStatusPending
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = models.CoverJobDefaultMaxRetries
	}
	job.TotalFiles = len(job.FileIDsParsed)

	if err := job.MarshalFileIDs(); err != nil {
		return errors.WithStack(err)
	}

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveCoverJob(ctx context.Context, opts RetrieveCoverJobOptions) (*models.CoverJob, error) {
	job := &models.CoverJob{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("cj.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Cover job")
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalFileIDs(); err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *Service) ListCoverJobs(ctx context.Context, opts ListCoverJobsOptions) ([]*models.CoverJob, error) {
	jobs, _, err := svc.listCoverJobsWithTotal(ctx, opts)
	return jobs, errors.WithStack(err)
}

func (svc *Service) ListCoverJobsWithTotal(ctx context.Context, opts ListCoverJobsOptions) ([]*models.CoverJob, int, error) {
	opts.includeTotal = true
	return svc.listCoverJobsWithTotal(ctx, opts)
}

func (svc *Service) listCoverJobsWithTotal(ctx context.Context, opts ListCoverJobsOptions) ([]*models.CoverJob, int, error) {
	jobs := []*models.CoverJob{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&jobs).
		Order("cj.priority DESC").
		Order("cj.created_at ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("cj.status = ?", s)
			}
			return sq
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, job := range jobs {
		if err := job.UnmarshalFileIDs(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return jobs, total, nil
}

func (svc *Service) UpdateCoverJob(ctx context.Context, job *models.CoverJob, opts UpdateCoverJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	job.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Cover job")
		}
		return errors.WithStack(err)
	}

	return nil
}

// ClaimNextPending atomically moves the highest-priority pending job to
// processing and returns it. Returns nil when the queue has no ready work. The
// guarded update means a job claimed by a concurrent worker is skipped rather
// than double-dispatched.
func (svc *Service) ClaimNextPending(ctx context.Context) (*models.CoverJob, error) {
	for {
		job := &models.CoverJob{}
		err := svc.db.
			NewSelect().
			Model(job).
			Where("cj.status = ?", models.CoverJobStatusPending).
			Order("cj.priority DESC").
			Order("cj.created_at ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, errors.WithStack(err)
		}

		job.Status = models.CoverJobStatusProcessing
		job.UpdatedAt = time.Now()
		res, err := svc.db.
			NewUpdate().
			Model(job).
			Column("status", "updated_at").
			WherePK().
			Where("cj.status = ?", models.CoverJobStatusPending).
			Exec(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if affected == 0 {
			// Someone else claimed it between the select and the update.
			continue
		}

		if err := job.UnmarshalFileIDs(); err != nil {
			return nil, errors.WithStack(err)
		}
		return job, nil
	}
}

// ResetProcessing flips every processing job back to pending. It runs once on
// startup: a job that was mid-flight when the process died is not assumed to
// have completed, so it is re-dispatched, and the handler's idempotency
// absorbs any work that did land.
func (svc *Service) ResetProcessing(ctx context.Context) (int, error) {
	res, err := svc.db.
		NewUpdate().
		Model((*models.CoverJob)(nil)).
		Set("status = ?", models.CoverJobStatusPending).
		Set("updated_at = ?", time.Now()).
		Where("cj.status = ?", models.CoverJobStatusProcessing).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

// RequeueCoverJob revives a permanently failed or cancelled job. This is the
// explicit operator action; the runtime itself never retries past the retry
// ceiling.
func (svc *Service) RequeueCoverJob(ctx context.Context, id int) (*models.CoverJob, error) {
	job, err := svc.RetrieveCoverJob(ctx, RetrieveCoverJobOptions{ID: &id})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if job.Status != models.CoverJobStatusFailed && job.Status != models.CoverJobStatusCancelled {
		return nil, errcodes.Conflict("Only failed or cancelled cover jobs can be requeued.")
	}

	job.Status = models.CoverJobStatusPending
	job.RetryCount = 0
	job.ProcessedFiles = 0
	job.FailedFiles = 0
	job.LastError = nil
	err = svc.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
		Columns: []string{"status", "retry_count", "processed_files", "failed_files", "last_error"},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

// CountByStatus returns the queue's per-status counts.
func (svc *Service) CountByStatus(ctx context.Context) (*StatusCounts, error) {
	rows := []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}{}

	err := svc.db.
		NewSelect().
		Model((*models.CoverJob)(nil)).
		ColumnExpr("cj.status AS status").
		ColumnExpr("count(*) AS count").
		Group("cj.status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := &StatusCounts{}
	for _, row := range rows {
		switch row.Status {
		case models.CoverJobStatusPending:
			counts.Pending = row.Count
		case models.CoverJobStatusProcessing:
			counts.Processing = row.Count
		case models.CoverJobStatusComplete:
			counts.Complete = row.Count
		case models.CoverJobStatusFailed:
			counts.Failed = row.Count
		case models.CoverJobStatusCancelled:
			counts.Cancelled = row.Count
		}
	}
	return counts, nil
}
