package queue

import (
	"net/http"
	"strconv"

	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	jobService *Service
	runtime    *Runtime
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CreateCoverJobPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job := &models.CoverJob{
		LibraryID:     params.LibraryID,
		FolderPath:    params.FolderPath,
		FileIDsParsed: params.FileIDs,
		Priority:      params.Priority,
	}

	err := h.jobService.CreateCoverJob(ctx, job)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Cover job")
	}

	job, err := h.jobService.RetrieveCoverJob(ctx, RetrieveCoverJobOptions{
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
	params := ListCoverJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.jobService.ListCoverJobsWithTotal(ctx, ListCoverJobsOptions{
		Limit:    &params.Limit,
		Offset:   &params.Offset,
		Statuses: params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		CoverJobs []*models.CoverJob `json:"cover_jobs"`
		Total     int                `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.jobService.CountByStatus(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	failed, err := h.jobService.ListCoverJobs(ctx, ListCoverJobsOptions{
		Statuses: []string{models.CoverJobStatusFailed},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Counts *StatusCounts      `json:"counts"`
		Failed []*models.CoverJob `json:"failed"`
	}{counts, failed}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) requeue(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Cover job")
	}

	job, err := h.jobService.RequeueCoverJob(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Cover job")
	}

	job, err := h.jobService.RetrieveCoverJob(ctx, RetrieveCoverJobOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if models.CoverJobTerminal(job.Status) {
		return errcodes.Conflict("The cover job has already finished.")
	}

	job.Status = models.CoverJobStatusCancelled
	err = h.jobService.UpdateCoverJob(ctx, job, UpdateCoverJobOptions{
		Columns: []string{"status"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) setLowPriority(c echo.Context) error {
	// Bind params.
	params := SetLowPriorityPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	h.runtime.SetLowPriority(*params.Enabled)

	resp := struct {
		LowPriority bool `json:"low_priority"`
		Capacity    int  `json:"capacity"`
	}{*params.Enabled, h.runtime.sem.Capacity()}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
