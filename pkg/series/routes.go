package series

import (
	"time"

	"github.com/komikan/komikan/pkg/cache"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers series routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, viewCache *cache.Cache, cacheTTL time.Duration) {
	seriesService := NewService(db)

	h := &handler{
		seriesService: seriesService,
		viewCache:     viewCache,
		cacheTTL:      cacheTTL,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
}
