package queue

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers cover job routes on a pre-configured
// group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, runtime *Runtime) {
	jobService := NewService(db)

	h := &handler{
		jobService: jobService,
		runtime:    runtime,
	}

	g.GET("", h.list)
	g.GET("/status", h.status)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create)
	g.POST("/:id/requeue", h.requeue)
	g.POST("/:id/cancel", h.cancel)
	g.PUT("/low-priority", h.setLowPriority)
}
