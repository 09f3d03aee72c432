package services

import (
	"context"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// TimelineService reconstructs a session's chronological record: the
// session row, its stages in index order, and every interaction merged by
// ts_us ascending with insertion-id tie-breaking.
type TimelineService struct {
	sessions     *SessionService
	stages       *StageService
	interactions *InteractionService
}

// NewTimelineService creates a new TimelineService.
func NewTimelineService(sessions *SessionService, stages *StageService, interactions *InteractionService) *TimelineService {
	if sessions == nil || stages == nil || interactions == nil {
		panic("NewTimelineService: all services must be non-nil")
	}
	return &TimelineService{sessions: sessions, stages: stages, interactions: interactions}
}

// GetSessionWithTimeline returns the session, its stages, and the merged
// interaction timeline.
func (s *TimelineService) GetSessionWithTimeline(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stages, err := s.stages.ListStageExecutions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}

	llmInteractions, err := s.interactions.ListLLMInteractions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	mcpInteractions, err := s.interactions.ListMCPInteractions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lifecycleEvents, err := s.interactions.ListLifecycleEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &models.SessionDetail{
		Session:  session,
		Stages:   stages,
		Timeline: models.MergeTimeline(llmInteractions, mcpInteractions, lifecycleEvents),
	}, nil
}
