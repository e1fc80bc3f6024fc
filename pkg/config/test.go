package config

import "time"

func loadTestConfig(cfg *Config) {
	cfg.CoverCacheDir = "./tmp/covers-test"
	cfg.CoverFetchInterval = 10 * time.Millisecond
	cfg.CoverRetryBaseDelay = time.Millisecond
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 0
}
