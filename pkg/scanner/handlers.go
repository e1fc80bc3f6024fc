package scanner

import (
	"net/http"
	"strconv"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	scanJobService *Service
	scanner        *Scanner
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := StartScanPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job, created, err := h.scanner.StartScan(ctx, params.LibraryID, &models.ScanJobData{
		ForceFullScan: params.ForceFullScan,
		BatchSize:     params.BatchSize,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return errors.WithStack(c.JSON(status, job))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Scan job")
	}

	job, err := h.scanJobService.RetrieveScanJob(ctx, RetrieveScanJobOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListScanJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.scanJobService.ListScanJobsWithTotal(ctx, ListScanJobsOptions{
		Limit:     &params.Limit,
		Offset:    &params.Offset,
		LibraryID: params.LibraryID,
		Statuses:  params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		ScanJobs []*models.ScanJob `json:"scan_jobs"`
		Total    int               `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Scan job")
	}

	job, err := h.scanner.Cancel(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Scan job")
	}

	err = h.scanJobService.DeleteScanJob(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}
