package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
)

// EventService handles retention of lifecycle event rows. Per-session
// cascade deletion covers the normal case; this is the safety net for rows
// orphaned by soft-deleted sessions.
type EventService struct {
	client *database.Client
}

// NewEventService creates a new EventService.
func NewEventService(client *database.Client) *EventService {
	if client == nil {
		panic("NewEventService: client must not be nil")
	}
	return &EventService{client: client}
}

// CleanupOrphanedEvents deletes lifecycle events belonging to sessions that
// were soft-deleted longer than ttl ago. Returns the number of rows removed.
func (s *EventService) CleanupOrphanedEvents(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.client.DB().ExecContext(ctx, `
		DELETE FROM lifecycle_events
		WHERE session_id IN (
			SELECT session_id FROM alert_sessions
			WHERE deleted_at IS NOT NULL AND deleted_at < now() - $1::interval
		)`,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up orphaned events: %w", err)
	}
	return res.RowsAffected()
}
