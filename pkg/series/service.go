package series

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveSeriesOptions struct {
	ID          *int
	IdentityKey *string
	LibraryID   *int
}

type ListSeriesOptions struct {
	LibraryID *int
	Limit     *int
	Offset    *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	series := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(series)

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.IdentityKey != nil {
		q = q.Where("s.identity_key = ?", *opts.IdentityKey)
	}
	if opts.LibraryID != nil {
		q = q.Where("s.library_id = ?", *opts.LibraryID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}

	return series, nil
}

func (svc *Service) ListSeries(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, error) {
	series := []*models.Series{}

	q := svc.db.
		NewSelect().
		Model(&series).
		ColumnExpr("s.*").
		ColumnExpr("(SELECT count(*) FROM files AS f WHERE f.resolved_series_id = s.id) AS file_count").
		Order("s.name ASC")

	if opts.LibraryID != nil {
		q = q.Where("s.library_id = ?", *opts.LibraryID)
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

	return series, nil
}

// ResolveSeries looks up a series by its identity key and creates it if it
// doesn't exist. It returns the series and whether it was created.
//
// The resolution stage calls this one name at a time, so two in-process
// lookups never interleave. If another process created the same identity key
// between our lookup and our insert, the unique index rejects the insert; the
// desired end state (exactly one series per identity key) already holds, so
// the conflict is answered by re-reading the winner and reporting "existing".
func (svc *Service) ResolveSeries(ctx context.Context, series *models.Series) (bool, error) {
	series.IdentityKey = models.SeriesIdentityKey(series.Name, publisherOrEmpty(series.Publisher))

	existing, err := svc.RetrieveSeries(ctx, RetrieveSeriesOptions{
		IdentityKey: &series.IdentityKey,
		LibraryID:   &series.LibraryID,
	})
	if err != nil && !errors.Is(err, errcodes.NotFound("Series")) {
		return false, errors.WithStack(err)
	}
	if existing != nil {
		*series = *existing
		return false, nil
	}

	return svc.createSeries(ctx, series)
}

// createSeries inserts the series, expecting its IdentityKey to be set. A
// unique-index rejection means another writer won the race since the caller's
// lookup; the winner is re-read and reported as existing.
func (svc *Service) createSeries(ctx context.Context, series *models.Series) (bool, error) {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = series.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(series).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			winner, retrieveErr := svc.RetrieveSeries(ctx, RetrieveSeriesOptions{
				IdentityKey: &series.IdentityKey,
				LibraryID:   &series.LibraryID,
			})
			if retrieveErr != nil {
				return false, errors.WithStack(retrieveErr)
			}
			*series = *winner
			return false, nil
		}
		return false, errors.WithStack(err)
	}

	return true, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed") && strings.Contains(errStr, "unique")
}

func publisherOrEmpty(publisher *string) string {
	if publisher == nil {
		return ""
	}
	return *publisher
}
