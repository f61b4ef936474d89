package orchestrator

import "time"

// Config controls the periodic runner and per-run ceilings.
type Config struct {
	RunInterval       time.Duration
	MaxDatasetsPerRun int
	RequestTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Hour,
		MaxDatasetsPerRun: 100,
		RequestTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.MaxDatasetsPerRun <= 0 {
		c.MaxDatasetsPerRun = defaults.MaxDatasetsPerRun
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	return c
}
