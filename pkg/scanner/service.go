package scanner

import (
	"context"
	"database/sql"
	"time"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveScanJobOptions struct {
	ID *int
}

type ListScanJobsOptions struct {
	LibraryID *int
	Statuses  []string
	Limit     *int
	Offset    *int

	includeTotal bool
}

type UpdateScanJobOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateScanJob(ctx context.Context, job *models.ScanJob) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	if job.Status == "" {
		job.Status = models.ScanJobStatusPending
	}

	if err := job.MarshalData(); err != nil {
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

func (svc *Service) RetrieveScanJob(ctx context.Context, opts RetrieveScanJobOptions) (*models.ScanJob, error) {
	job := &models.ScanJob{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("sj.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Scan job")
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *Service) ListScanJobs(ctx context.Context, opts ListScanJobsOptions) ([]*models.ScanJob, error) {
	jobs, _, err := svc.listScanJobsWithTotal(ctx, opts)
	return jobs, errors.WithStack(err)
}

func (svc *Service) ListScanJobsWithTotal(ctx context.Context, opts ListScanJobsOptions) ([]*models.ScanJob, int, error) {
	opts.includeTotal = true
	return svc.listScanJobsWithTotal(ctx, opts)
}

func (svc *Service) listScanJobsWithTotal(ctx context.Context, opts ListScanJobsOptions) ([]*models.ScanJob, int, error) {
	jobs := []*models.ScanJob{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&jobs).
		Order("sj.created_at DESC")

	if opts.LibraryID != nil {
		q = q.Where("sj.library_id = ?", *opts.LibraryID)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("sj.status = ?", s)
			}
			return sq
		})
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
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
		if err := job.UnmarshalData(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return jobs, total, nil
}

func (svc *Service) UpdateScanJob(ctx context.Context, job *models.ScanJob, opts UpdateScanJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	if err := job.MarshalData(); err != nil {
		return errors.WithStack(err)
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
			return errcodes.NotFound("Scan job")
		}
		return errors.WithStack(err)
	}

	return nil
}

// DeleteScanJob removes a finished scan record. Jobs still pending or running
// are protected; they must be cancelled first.
func (svc *Service) DeleteScanJob(ctx context.Context, id int) error {
	job, err := svc.RetrieveScanJob(ctx, RetrieveScanJobOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}
	if !models.ScanJobTerminal(job.Status) {
		return errcodes.Conflict("The scan job is still active; cancel it before deleting.")
	}

	_, err = svc.db.
		NewDelete().
		Model((*models.ScanJob)(nil)).
		Where("sj.id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ActiveScanJob returns the library's pending or running scan job, or nil when
// there is none. One active scan per library is what keeps the sequential
// series-resolution stage exclusive within a process.
func (svc *Service) ActiveScanJob(ctx context.Context, libraryID int) (*models.ScanJob, error) {
	job := &models.ScanJob{}

	err := svc.db.
		NewSelect().
		Model(job).
		Where("sj.library_id = ?", libraryID).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				WhereOr("sj.status = ?", models.ScanJobStatusPending).
				WhereOr("sj.status = ?", models.ScanJobStatusRunning)
		}).
		Order("sj.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}
