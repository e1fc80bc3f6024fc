package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/komikan/komikan/pkg/cache"
	"github.com/komikan/komikan/pkg/config"
	"github.com/komikan/komikan/pkg/database"
	"github.com/komikan/komikan/pkg/migrations"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/komikan/komikan/pkg/queue"
	"github.com/komikan/komikan/pkg/scanner"
	"github.com/komikan/komikan/pkg/server"
	"github.com/komikan/komikan/pkg/version"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting komikan", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initCoverCacheDir(cfg.CoverCacheDir); err != nil {
		log.Err(err).Fatal("cover cache directory error")
	}
	log.Info("cover cache directory initialized", logger.Data{"path": cfg.CoverCacheDir})

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	broadcaster := progress.NewBroadcaster()
	viewCache := cache.New()

	runtime := queue.NewRuntime(cfg, db, broadcaster)
	scn := scanner.New(cfg, db, broadcaster, viewCache)

	srv, err := server.New(cfg, db, server.Dependencies{
		Broadcaster: broadcaster,
		Runtime:     runtime,
		Scanner:     scn,
		ViewCache:   viewCache,
	})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		actualPort := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": actualPort})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	// Interrupted cover jobs from a previous run are re-dispatched here.
	if err := runtime.Start(); err != nil {
		log.Err(err).Fatal("cover queue error")
	}
	log.Info("cover queue started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	runtime.Shutdown()
	log.Info("cover queue shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initCoverCacheDir creates the thumbnail cache directory and verifies write
// permissions.
func initCoverCacheDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create cover cache directory: %s", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "cover cache directory is not writable: %s", dir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
