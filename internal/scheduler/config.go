package scheduler

import (
	"time"

	"github.com/smallbiznis/parkway/internal/config"
)

const (
	JobTokenCleanup    = "token_cleanup"
	JobGarageReconcile = "garage_reconcile"
)

// Config controls the run loop and which jobs it executes.
type Config struct {
	RunInterval      time.Duration
	JobTimeout       time.Duration
	EnabledJobs      []string
	ReconcileEnabled bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		JobTimeout:       cfg.Scheduler.JobTimeout,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
		ReconcileEnabled: cfg.Scheduler.ReconcileEnabled,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
