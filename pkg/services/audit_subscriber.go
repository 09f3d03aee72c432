package services

import (
	"context"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// AuditSubscriber is the hook-bus subscriber that persists every
// interaction event into the audit store. Registering it on the bus is what
// turns emission into durable audit trail — with no audit subscriber
// registered, events are dropped silently by design.
type AuditSubscriber struct {
	interactions *InteractionService
}

// NewAuditSubscriber creates the audit writer.
func NewAuditSubscriber(interactions *InteractionService) *AuditSubscriber {
	if interactions == nil {
		panic("NewAuditSubscriber: interactions must not be nil")
	}
	return &AuditSubscriber{interactions: interactions}
}

// HandleEvent implements events.Subscriber. The write is synchronous to the
// backing store; the bus's dispatcher goroutine absorbs the latency so
// emitting call sites only pay for the enqueue.
func (a *AuditSubscriber) HandleEvent(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.LLMInteractionEvent:
		return a.interactions.AppendLLMInteraction(ctx, &models.LLMInteraction{
			SessionID:        e.SessionID,
			StageExecutionID: e.StageExecutionID,
			TsUs:             e.TsUs,
			ModelName:        e.ModelName,
			MessagesIn:       e.MessagesIn,
			ResponseOut:      e.ResponseOut,
			InputTokens:      e.InputTokens,
			OutputTokens:     e.OutputTokens,
			TotalTokens:      e.TotalTokens,
			DurationMs:       e.DurationMs,
			ErrorMessage:     e.Error,
		})

	case *events.MCPInteractionEvent:
		return a.interactions.AppendMCPInteraction(ctx, &models.MCPInteraction{
			SessionID:        e.SessionID,
			StageExecutionID: e.StageExecutionID,
			TsUs:             e.TsUs,
			ServerID:         e.ServerID,
			InteractionType:  e.InteractionType,
			ToolName:         e.ToolName,
			ToolArguments:    e.ToolArguments,
			ToolResult:       e.ToolResult,
			AvailableTools:   e.AvailableTools,
			DurationMs:       e.DurationMs,
			ErrorMessage:     e.Error,
		})

	case *events.SessionLifecycleEvent:
		return a.interactions.AppendLifecycleEvent(ctx, &models.LifecycleEvent{
			SessionID:        e.SessionID,
			StageExecutionID: e.StageExecutionID,
			TsUs:             e.TsUs,
			EventType:        e.EventType,
			Message:          e.Message,
			Details:          e.Details,
		})

	default:
		return fmt.Errorf("unknown event type %T", event)
	}
}
