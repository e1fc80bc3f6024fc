package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/komikan/komikan/pkg/binder"
	"github.com/komikan/komikan/pkg/cache"
	"github.com/komikan/komikan/pkg/config"
	"github.com/komikan/komikan/pkg/errcodes"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/libraries"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/komikan/komikan/pkg/queue"
	"github.com/komikan/komikan/pkg/scanner"
	"github.com/komikan/komikan/pkg/series"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

// Dependencies carries the long-lived components the route groups share.
type Dependencies struct {
	Broadcaster *progress.Broadcaster
	Runtime     *queue.Runtime
	Scanner     *scanner.Scanner
	ViewCache   *cache.Cache
}

func New(cfg *config.Config, db *bun.DB, deps Dependencies) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	librariesGroup := e.Group("/libraries")
	libraries.RegisterRoutesWithGroup(librariesGroup, db)

	seriesGroup := e.Group("/series")
	series.RegisterRoutesWithGroup(seriesGroup, db, deps.ViewCache, cfg.CacheTTL)

	filesGroup := e.Group("/files")
	files.RegisterRoutesWithGroup(filesGroup, db)

	scansGroup := e.Group("/scans")
	scanner.RegisterRoutesWithGroup(scansGroup, deps.Scanner)

	coversGroup := e.Group("/covers")
	queue.RegisterRoutesWithGroup(coversGroup, db, deps.Runtime)

	e.GET("/events", progressHandler(deps.Broadcaster))

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

// progressHandler streams pipeline progress as server-sent events. Delivery
// is best-effort; clients that need a complete picture poll the job status
// endpoints.
func progressHandler(broadcaster *progress.Broadcaster) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set(echo.HeaderCacheControl, "no-cache")
		resp.Header().Set(echo.HeaderConnection, "keep-alive")
		resp.WriteHeader(http.StatusOK)
		resp.Flush()

		events, unsubscribe := broadcaster.Subscribe(64)
		defer unsubscribe()

		for {
			select {
			case <-c.Request().Context().Done():
				return nil
			case event, ok := <-events:
				if !ok {
					return nil
				}
				data, err := json.Marshal(event)
				if err != nil {
					return errors.WithStack(err)
				}
				if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
					return nil
				}
				resp.Flush()
			}
		}
	}
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
