package config

import "time"

// QueueConfig controls the in-process bounded worker pool that processes
// submitted alerts. Unlike a multi-replica DB-claim queue, this is a single
// process's channel-backed pool: no polling, no heartbeats, no orphan
// detection — a worker either holds an alert or it doesn't.
type QueueConfig struct {
	// MaxConcurrentAlerts bounds how many alerts are processed at once;
	// additional submissions queue behind the bound.
	MaxConcurrentAlerts int `yaml:"max_concurrent_alerts"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// alerts to finish processing during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxConcurrentAlerts:     DefaultMaxConcurrentAlerts,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
