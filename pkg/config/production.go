package config

import (
	"os"
	"strconv"
)

func loadProductionConfig(cfg *Config) {
	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err == nil {
		cfg.ServerPort = port
	}

	if dir := os.Getenv("COVER_CACHE_DIR"); dir != "" {
		cfg.CoverCacheDir = dir
	} else {
		cfg.CoverCacheDir = "/data/covers"
	}
	if path := os.Getenv("DATABASE_FILE_PATH"); path != "" {
		cfg.DatabaseFilePath = path
	} else {
		cfg.DatabaseFilePath = "/data/data.sqlite"
	}
	if workers, err := strconv.Atoi(os.Getenv("COVER_WORKERS")); err == nil && workers > 0 {
		cfg.CoverWorkers = workers
	}
	if concurrency, err := strconv.Atoi(os.Getenv("SCAN_CONCURRENCY")); err == nil && concurrency > 0 {
		cfg.ScanConcurrency = concurrency
	}
}
