package series

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/komikan/komikan/pkg/cache"
	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// CacheFamily prefixes every cached series view; the broad invalidation path
// drops everything under it.
const CacheFamily = "series:list:"

type handler struct {
	seriesService *Service
	viewCache     *cache.Cache
	cacheTTL      time.Duration
}

type listResponse struct {
	Series []*models.Series `json:"series"`
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListSeriesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	key := listCacheKey(params)
	if cached, ok := h.viewCache.Get(key); ok {
		return errors.WithStack(c.JSON(http.StatusOK, cached))
	}

	series, err := h.seriesService.ListSeries(ctx, ListSeriesOptions{
		LibraryID: params.LibraryID,
		Limit:     &params.Limit,
		Offset:    &params.Offset,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := listResponse{series}

	h.viewCache.Set(key, resp, h.cacheTTL)
	if params.LibraryID != nil {
		h.viewCache.TrackDependency(LibraryEntityKey(*params.LibraryID), key, h.cacheTTL)
	}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Series")
	}

	series, err := h.seriesService.RetrieveSeries(ctx, RetrieveSeriesOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, series))
}

func listCacheKey(params ListSeriesQuery) string {
	libraryID := 0
	if params.LibraryID != nil {
		libraryID = *params.LibraryID
	}
	return fmt.Sprintf("%s%d:%d:%d", CacheFamily, libraryID, params.Limit, params.Offset)
}

// LibraryEntityKey is the dependency-tracking key for every series view of a
// library. The scan pipeline invalidates it when linking changes the catalog.
func LibraryEntityKey(libraryID int) string {
	return fmt.Sprintf("library:%d", libraryID)
}
