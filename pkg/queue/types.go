// Package queue provides the in-process bounded worker pool that processes
// accepted alerts. Unlike a multi-replica DB-claim queue, this is a single
// process's channel-backed pool: no polling, no heartbeats, no orphan
// detection — a worker either holds an alert or it doesn't.
package queue

import (
	"context"
	"errors"

	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// ErrQueueFull signals backpressure: the submission queue is at capacity
// and the edge should reject with 429.
var ErrQueueFull = errors.New("alert queue is full")

// ErrPoolStopped signals a submission after shutdown began.
var ErrPoolStopped = errors.New("worker pool is stopped")

// SessionExecutor processes one accepted session to completion.
// Implemented by the alert orchestrator.
type SessionExecutor interface {
	ProcessSession(ctx context.Context, session *models.AlertSession)
}

// PoolHealth reports worker pool state for the health endpoint.
type PoolHealth struct {
	ActiveSessions int  `json:"active_sessions"`
	MaxConcurrent  int  `json:"max_concurrent"`
	QueueDepth     int  `json:"queue_depth"`
	QueueCapacity  int  `json:"queue_capacity"`
	Stopped        bool `json:"stopped"`
}
