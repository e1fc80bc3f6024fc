package files

import (
	"net/http"
	"os"
	"strconv"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	fileService *Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListFilesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	files, err := h.fileService.ListFiles(ctx, ListFilesOptions{
		Limit:     &params.Limit,
		Offset:    &params.Offset,
		LibraryID: params.LibraryID,
		Statuses:  params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Files []*models.File `json:"files"`
	}{files}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("File")
	}

	file, err := h.fileService.RetrieveFile(ctx, RetrieveFileOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, file))
}

// thumbnail serves the extracted cover thumbnail from the cache directory.
func (h *handler) thumbnail(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("File")
	}

	file, err := h.fileService.RetrieveFile(ctx, RetrieveFileOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if file.CoverThumbPath == nil {
		return errcodes.NotFound("Thumbnail")
	}
	if _, err := os.Stat(*file.CoverThumbPath); err != nil {
		return errcodes.NotFound("Thumbnail")
	}

	return errors.WithStack(c.File(*file.CoverThumbPath))
}
