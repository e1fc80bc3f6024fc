package series

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/komikan/komikan/pkg/migrations"
	"github.com/komikan/komikan/pkg/models"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	// Each pool connection would get its own in-memory database; a single
	// connection keeps concurrent callers on the same one.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func createTestLibrary(t *testing.T, db *bun.DB) *models.Library {
	t.Helper()

	library := &models.Library{Name: "Comics", RootPath: "/comics", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(library).Exec(context.Background())
	require.NoError(t, err)
	return library
}

func TestResolveSeries_CreatesNew(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	sr := &models.Series{
		LibraryID:  library.ID,
		Name:       "Batman",
		NameSource: models.DataSourceCBZMetadata,
		Publisher:  pointerutil.String("DC Comics"),
	}
	created, err := svc.ResolveSeries(ctx, sr)
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotZero(t, sr.ID)
	assert.Equal(t, "batman|dc comics", sr.IdentityKey)
}

func TestResolveSeries_ReturnsExisting(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	first := &models.Series{
		LibraryID:  library.ID,
		Name:       "Batman",
		NameSource: models.DataSourceCBZMetadata,
		Publisher:  pointerutil.String("DC Comics"),
	}
	created, err := svc.ResolveSeries(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	// Same identity under different casing and spacing.
	second := &models.Series{
		LibraryID:  library.ID,
		Name:       "  BATMAN ",
		NameSource: models.DataSourceFolder,
		Publisher:  pointerutil.String("dc   comics"),
	}
	created, err = svc.ResolveSeries(ctx, second)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	// The winner's metadata is kept.
	assert.Equal(t, "Batman", second.Name)
	assert.Equal(t, models.DataSourceCBZMetadata, second.NameSource)
}

func TestResolveSeries_DistinctPublishers(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	first := &models.Series{LibraryID: library.ID, Name: "Invincible", NameSource: models.DataSourceCBZMetadata, Publisher: pointerutil.String("Image")}
	created, err := svc.ResolveSeries(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	// Same name under a different publisher is a different series.
	second := &models.Series{LibraryID: library.ID, Name: "Invincible", NameSource: models.DataSourceCBZMetadata, Publisher: pointerutil.String("Skybound")}
	created, err = svc.ResolveSeries(ctx, second)
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestResolveSeries_NilPublisher(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	sr := &models.Series{LibraryID: library.ID, Name: "Blankets", NameSource: models.DataSourceFolder}
	created, err := svc.ResolveSeries(ctx, sr)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, "blankets|", sr.IdentityKey)
}

func TestResolveSeries_ConflictAsExisting(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	// Another writer wins the race between the lookup and the insert: the
	// winner lands after the lookup missed, so the insert hits the unique
	// index and has to recover by re-reading.
	winner := &models.Series{
		LibraryID:   library.ID,
		Name:        "Batman",
		NameSource:  models.DataSourceCBZMetadata,
		IdentityKey: models.SeriesIdentityKey("Batman", ""),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err := db.NewInsert().Model(winner).Exec(ctx)
	require.NoError(t, err)

	loser := &models.Series{
		LibraryID:   library.ID,
		Name:        "batman",
		NameSource:  models.DataSourceFolder,
		IdentityKey: models.SeriesIdentityKey("batman", ""),
	}
	created, err := svc.createSeries(ctx, loser)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, winner.ID, loser.ID)
	// The winner's metadata is what comes back.
	assert.Equal(t, "Batman", loser.Name)
	assert.Equal(t, models.DataSourceCBZMetadata, loser.NameSource)

	count, err := db.NewSelect().
		Model((*models.Series)(nil)).
		Where("s.identity_key = ?", loser.IdentityKey).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveSeries_ConcurrentSameKey(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	// Two resolutions of the same identity racing each other must end with
	// exactly one series row, whichever of them wins the insert.
	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sr := &models.Series{LibraryID: library.ID, Name: "Batman", NameSource: models.DataSourceCBZMetadata}
			results[i], errs[i] = svc.ResolveSeries(ctx, sr)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	createdCount := 0
	for _, created := range results {
		if created {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)

	key := models.SeriesIdentityKey("Batman", "")
	count, err := db.NewSelect().
		Model((*models.Series)(nil)).
		Where("s.identity_key = ?", key).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveSeries_SameKeyAcrossLibraries(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	first := createTestLibrary(t, db)

	second := &models.Library{Name: "Manga", RootPath: "/manga", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(second).Exec(ctx)
	require.NoError(t, err)

	a := &models.Series{LibraryID: first.ID, Name: "Batman", NameSource: models.DataSourceCBZMetadata}
	created, err := svc.ResolveSeries(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	// The identity key is scoped per library.
	b := &models.Series{LibraryID: second.ID, Name: "Batman", NameSource: models.DataSourceCBZMetadata}
	created, err = svc.ResolveSeries(ctx, b)
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestListSeries_FileCount(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := createTestLibrary(t, db)

	sr := &models.Series{LibraryID: library.ID, Name: "Batman", NameSource: models.DataSourceCBZMetadata}
	created, err := svc.ResolveSeries(ctx, sr)
	require.NoError(t, err)
	require.True(t, created)

	for i := 0; i < 3; i++ {
		file := &models.File{
			LibraryID:        library.ID,
			Filepath:         fmt.Sprintf("/comics/Batman/Batman 00%d.cbz", i+1),
			RelativePath:     "Batman",
			FileType:         models.FileTypeCBZ,
			Status:           models.FileStatusIndexed,
			FilesizeBytes:    1,
			FileModifiedAt:   time.Now(),
			ResolvedSeriesID: &sr.ID,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
		_, err := db.NewInsert().Model(file).Exec(ctx)
		require.NoError(t, err)
	}

	listed, err := svc.ListSeries(ctx, ListSeriesOptions{LibraryID: &library.ID})
	require.NoError(t, err)

	require.Len(t, listed, 1)
	assert.Equal(t, 3, listed[0].FileCount)
}
