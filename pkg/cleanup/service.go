// Package cleanup provides the retention service: it periodically
// soft-deletes sessions past the retention window and removes lifecycle
// event rows orphaned by soft-deleted sessions.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// SessionPurger soft-deletes sessions older than the retention window.
// Implemented by services.SessionService.
type SessionPurger interface {
	SoftDeleteOldSessions(ctx context.Context, retentionDays int) (int64, error)
}

// EventPurger removes orphaned lifecycle event rows past their TTL.
// Implemented by services.EventService.
type EventPurger interface {
	CleanupOrphanedEvents(ctx context.Context, ttl time.Duration) (int64, error)
}

// Service runs the retention loop. All operations are idempotent and safe
// to run from multiple instances.
type Service struct {
	config   *config.RetentionConfig
	sessions SessionPurger
	events   EventPurger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, sessions SessionPurger, events EventPurger) *Service {
	return &Service{
		config:   cfg,
		sessions: sessions,
		events:   events,
	}
}

// Start launches the background cleanup loop. Calling Start on a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldSessions(ctx)
	s.cleanupOrphanedEvents(ctx)
}

func (s *Service) softDeleteOldSessions(ctx context.Context) {
	count, err := s.sessions.SoftDeleteOldSessions(ctx, s.config.SessionRetentionDays)
	if err != nil {
		slog.Error("Retention: soft-delete sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: soft-deleted old sessions", "count", count)
	}
}

func (s *Service) cleanupOrphanedEvents(ctx context.Context) {
	count, err := s.events.CleanupOrphanedEvents(ctx, s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up orphaned events", "count", count)
	}
}
