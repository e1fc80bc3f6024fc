package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	CacheTTL                  time.Duration
	CoverCacheDir             string
	CoverFetchInterval        time.Duration
	CoverRetryBaseDelay       time.Duration
	CoverWorkers              int
	CoverWorkersLowPriority   int
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	Hostname                  string
	ScanBatchSize             int
	ScanConcurrency           int
	ServerHost                string
	ServerPort                int
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		CacheTTL:                  5 * time.Minute,
		CoverFetchInterval:        5 * time.Second,
		CoverRetryBaseDelay:       time.Second,
		CoverWorkers:              8,
		CoverWorkersLowPriority:   2,
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        5,
		Hostname:                  hostname,
		ScanBatchSize:             100,
		ScanConcurrency:           4,
		ServerPort:                3689,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}
