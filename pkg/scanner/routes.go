package scanner

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers scan job routes on a pre-configured
// group.
func RegisterRoutesWithGroup(g *echo.Group, s *Scanner) {
	h := &handler{
		scanJobService: s.scanJobService,
		scanner:        s,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create)
	g.POST("/:id/cancel", h.cancel)
	g.DELETE("/:id", h.delete)
}
