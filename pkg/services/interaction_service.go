package services

import (
	"context"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// InteractionService owns the three append-only interaction tables. Rows
// are only ever inserted; the bigserial id preserves append order for
// timeline tie-breaking.
type InteractionService struct {
	client *database.Client
}

// NewInteractionService creates a new InteractionService.
func NewInteractionService(client *database.Client) *InteractionService {
	if client == nil {
		panic("NewInteractionService: client must not be nil")
	}
	return &InteractionService{client: client}
}

// AppendLLMInteraction inserts one LLM round-trip record.
func (s *InteractionService) AppendLLMInteraction(ctx context.Context, in *models.LLMInteraction) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO llm_interactions (
			session_id, stage_execution_id, ts_us, model_name, messages_in,
			response_out, input_tokens, output_tokens, total_tokens,
			duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		in.SessionID, in.StageExecutionID, in.TsUs, in.ModelName, nullableJSON(in.MessagesIn),
		in.ResponseOut, in.InputTokens, in.OutputTokens, in.TotalTokens,
		in.DurationMs, in.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to append LLM interaction: %w", err)
	}
	return nil
}

// AppendMCPInteraction inserts one tool call or tool listing record.
func (s *InteractionService) AppendMCPInteraction(ctx context.Context, in *models.MCPInteraction) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO mcp_interactions (
			session_id, stage_execution_id, ts_us, server_id, interaction_type,
			tool_name, tool_arguments, tool_result, available_tools,
			duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		in.SessionID, in.StageExecutionID, in.TsUs, in.ServerID, in.InteractionType,
		in.ToolName, nullableJSON(in.ToolArguments), in.ToolResult, nullableJSON(in.AvailableTools),
		in.DurationMs, in.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to append MCP interaction: %w", err)
	}
	return nil
}

// AppendLifecycleEvent inserts one lifecycle transition record.
func (s *InteractionService) AppendLifecycleEvent(ctx context.Context, in *models.LifecycleEvent) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO lifecycle_events (
			session_id, stage_execution_id, ts_us, event_type, message, details
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		in.SessionID, in.StageExecutionID, in.TsUs, in.EventType,
		nullableString(in.Message), nullableJSON(in.Details),
	)
	if err != nil {
		return fmt.Errorf("failed to append lifecycle event: %w", err)
	}
	return nil
}

// ListLLMInteractions returns a session's LLM interactions ordered by
// (ts_us, id) ascending.
func (s *InteractionService) ListLLMInteractions(ctx context.Context, sessionID string) ([]*models.LLMInteraction, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, session_id, stage_execution_id, ts_us, model_name, messages_in,
		       response_out, input_tokens, output_tokens, total_tokens, duration_ms, error_message
		FROM llm_interactions WHERE session_id = $1 ORDER BY ts_us ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list LLM interactions: %w", err)
	}
	defer rows.Close()

	var out []*models.LLMInteraction
	for rows.Next() {
		var in models.LLMInteraction
		var messages []byte
		var responseOut *string
		if err := rows.Scan(
			&in.ID, &in.SessionID, &in.StageExecutionID, &in.TsUs, &in.ModelName, &messages,
			&responseOut, &in.InputTokens, &in.OutputTokens, &in.TotalTokens,
			&in.DurationMs, &in.ErrorMessage,
		); err != nil {
			return nil, err
		}
		in.MessagesIn = messages
		if responseOut != nil {
			in.ResponseOut = *responseOut
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// ListMCPInteractions returns a session's MCP interactions ordered by
// (ts_us, id) ascending.
func (s *InteractionService) ListMCPInteractions(ctx context.Context, sessionID string) ([]*models.MCPInteraction, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, session_id, stage_execution_id, ts_us, server_id, interaction_type,
		       tool_name, tool_arguments, tool_result, available_tools, duration_ms, error_message
		FROM mcp_interactions WHERE session_id = $1 ORDER BY ts_us ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list MCP interactions: %w", err)
	}
	defer rows.Close()

	var out []*models.MCPInteraction
	for rows.Next() {
		var in models.MCPInteraction
		var args, tools []byte
		if err := rows.Scan(
			&in.ID, &in.SessionID, &in.StageExecutionID, &in.TsUs, &in.ServerID, &in.InteractionType,
			&in.ToolName, &args, &in.ToolResult, &tools, &in.DurationMs, &in.ErrorMessage,
		); err != nil {
			return nil, err
		}
		in.ToolArguments = args
		in.AvailableTools = tools
		out = append(out, &in)
	}
	return out, rows.Err()
}

// ListLifecycleEvents returns a session's lifecycle events ordered by
// (ts_us, id) ascending.
func (s *InteractionService) ListLifecycleEvents(ctx context.Context, sessionID string) ([]*models.LifecycleEvent, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, session_id, stage_execution_id, ts_us, event_type, message, details
		FROM lifecycle_events WHERE session_id = $1 ORDER BY ts_us ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer rows.Close()

	var out []*models.LifecycleEvent
	for rows.Next() {
		var in models.LifecycleEvent
		var message *string
		var details []byte
		if err := rows.Scan(
			&in.ID, &in.SessionID, &in.StageExecutionID, &in.TsUs, &in.EventType, &message, &details,
		); err != nil {
			return nil, err
		}
		if message != nil {
			in.Message = *message
		}
		in.Details = details
		out = append(out, &in)
	}
	return out, rows.Err()
}
