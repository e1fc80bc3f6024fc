package files

import (
	"context"
	"database/sql"
	"time"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveFileOptions struct {
	ID        *int
	Filepath  *string
	LibraryID *int
}

type ListFilesOptions struct {
	IDs       []int
	LibraryID *int
	Statuses  []string
	Limit     *int
	Offset    *int

	// NeedsMetadata selects files whose series_name_raw staging field has not
	// been written yet.
	NeedsMetadata bool
	// NeedsLinking selects files that carry a staging value but no resolved
	// series.
	NeedsLinking bool
}

type UpdateFileOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateFile(ctx context.Context, file *models.File) error {
	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = file.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(file).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveFile(ctx context.Context, opts RetrieveFileOptions) (*models.File, error) {
	file := &models.File{}

	q := svc.db.
		NewSelect().
		Model(file)

	if opts.ID != nil {
		q = q.Where("f.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("f.filepath = ?", *opts.Filepath)
	}
	if opts.LibraryID != nil {
		q = q.Where("f.library_id = ?", *opts.LibraryID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("File")
		}
		return nil, errors.WithStack(err)
	}

	return file, nil
}

func (svc *Service) ListFiles(ctx context.Context, opts ListFilesOptions) ([]*models.File, error) {
	files := []*models.File{}

	q := svc.db.
		NewSelect().
		Model(&files).
		Order("f.filepath ASC")

	if len(opts.IDs) > 0 {
		q = q.Where("f.id IN (?)", bun.In(opts.IDs))
	}
	if opts.LibraryID != nil {
		q = q.Where("f.library_id = ?", *opts.LibraryID)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("f.status = ?", s)
			}
			return sq
		})
	}
	if opts.NeedsMetadata {
		q = q.Where("f.series_name_raw IS NULL")
	}
	if opts.NeedsLinking {
		q = q.
			Where("f.series_name_raw IS NOT NULL").
			Where("f.resolved_series_id IS NULL")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return files, nil
}

func (svc *Service) UpdateFile(ctx context.Context, file *models.File, opts UpdateFileOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	file.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(file).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("File")
		}
		return errors.WithStack(err)
	}

	return nil
}

// DistinctUnresolvedSeriesNames returns the distinct series_name_raw values of
// files that have no resolved series yet, in lexicographic order. The order is
// what makes the resolution stage deterministic.
func (svc *Service) DistinctUnresolvedSeriesNames(ctx context.Context, libraryID int) ([]string, error) {
	names := []string{}

	err := svc.db.
		NewSelect().
		Model((*models.File)(nil)).
		ColumnExpr("DISTINCT f.series_name_raw").
		Where("f.library_id = ?", libraryID).
		Where("f.series_name_raw IS NOT NULL").
		Where("f.resolved_series_id IS NULL").
		OrderExpr("f.series_name_raw ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return names, nil
}

// FirstFileForSeriesName returns the unresolved file with the given staging
// value that sorts first by path. Its metadata seeds a newly created series.
func (svc *Service) FirstFileForSeriesName(ctx context.Context, libraryID int, name string) (*models.File, error) {
	file := &models.File{}

	err := svc.db.
		NewSelect().
		Model(file).
		Where("f.library_id = ?", libraryID).
		Where("f.series_name_raw = ?", name).
		Where("f.resolved_series_id IS NULL").
		Order("f.filepath ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("File")
		}
		return nil, errors.WithStack(err)
	}

	return file, nil
}

// CountByStatus returns the number of files per status for a library.
func (svc *Service) CountByStatus(ctx context.Context, libraryID int) (map[string]int, error) {
	rows := []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}{}

	err := svc.db.
		NewSelect().
		Model((*models.File)(nil)).
		ColumnExpr("f.status AS status").
		ColumnExpr("count(*) AS count").
		Where("f.library_id = ?", libraryID).
		Group("f.status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
