package scheduler

import (
	"time"

	"github.com/smallbiznis/featuregate/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	LockTTL     time.Duration
	JobTimeout  time.Duration

	// RetentionDays of 0 disables the event purge job.
	RetentionDays      int
	RetentionBatchSize int
	MaxBatchesPerRun   int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Hour,
		LockTTL:            5 * time.Minute,
		JobTimeout:         2 * time.Minute,
		RetentionBatchSize: 5000,
		MaxBatchesPerRun:   20,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:        time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		LockTTL:            time.Duration(cfg.Scheduler.LockTTLSeconds) * time.Second,
		RetentionDays:      cfg.Quota.EventRetentionDays,
		RetentionBatchSize: cfg.Scheduler.RetentionBatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.JobTimeout > c.LockTTL {
		c.JobTimeout = c.LockTTL
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	if c.RetentionBatchSize <= 0 {
		c.RetentionBatchSize = defaults.RetentionBatchSize
	}
	if c.MaxBatchesPerRun <= 0 {
		c.MaxBatchesPerRun = defaults.MaxBatchesPerRun
	}
	return c
}
