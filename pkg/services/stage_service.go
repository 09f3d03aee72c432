package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// StageService owns the stage_executions table. Every row gets exactly one
// terminal update, and success/failure payloads are mutually exclusive —
// enforced here and by a CHECK constraint in the schema.
type StageService struct {
	client *database.Client
}

// NewStageService creates a new StageService.
func NewStageService(client *database.Client) *StageService {
	if client == nil {
		panic("NewStageService: client must not be nil")
	}
	return &StageService{client: client}
}

const stageColumns = `execution_id, session_id, stage_id, stage_index, agent_id,
	iteration_strategy, status, started_at_us, completed_at_us, duration_ms,
	stage_output, error_message`

// CreateStageExecution inserts a stage execution in active status.
func (s *StageService) CreateStageExecution(ctx context.Context, req models.CreateStageExecutionRequest) (*models.StageExecution, error) {
	if req.ExecutionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}

	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO stage_executions (
			execution_id, session_id, stage_id, stage_index, agent_id,
			iteration_strategy, status, started_at_us
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ExecutionID, req.SessionID, req.StageID, req.StageIndex, req.AgentID,
		req.IterationStrategy, models.StageStatusActive, req.StartedAtUs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage execution: %w", err)
	}

	return s.GetStageExecution(ctx, req.ExecutionID)
}

// GetStageExecution fetches one stage execution by id.
func (s *StageService) GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error) {
	row := s.client.DB().QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM stage_executions WHERE execution_id = $1`, executionID)
	stage, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStageExecutionNotFound, executionID)
	}
	return stage, err
}

// FinalizeStageExecution applies the single terminal update. A completed
// stage carries stage_output; a failed one carries error_message; never
// both. A second call returns ErrAlreadyFinalized.
func (s *StageService) FinalizeStageExecution(ctx context.Context, req models.FinalizeStageExecutionRequest) error {
	switch req.Status {
	case models.StageStatusCompleted:
		if len(req.StageOutput) == 0 {
			return NewValidationError("stage_output", "required for completed stages")
		}
		if req.ErrorMessage != "" {
			return NewValidationError("error_message", "must be empty for completed stages")
		}
	case models.StageStatusFailed:
		if req.ErrorMessage == "" {
			return NewValidationError("error_message", "required for failed stages")
		}
		if len(req.StageOutput) != 0 {
			return NewValidationError("stage_output", "must be empty for failed stages")
		}
	default:
		return NewValidationError("status", fmt.Sprintf("%q is not a terminal stage status", req.Status))
	}

	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE stage_executions
		SET status = $1, completed_at_us = $2,
		    duration_ms = (($2 - started_at_us) / 1000),
		    stage_output = $3, error_message = $4
		WHERE execution_id = $5 AND status IN ($6, $7)`,
		req.Status, req.CompletedAtUs,
		nullableJSON(req.StageOutput), nullableString(req.ErrorMessage),
		req.ExecutionID, models.StageStatusPending, models.StageStatusActive)
	if err != nil {
		return fmt.Errorf("failed to finalize stage execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetStageExecution(ctx, req.ExecutionID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: stage execution %s", ErrAlreadyFinalized, req.ExecutionID)
	}
	return nil
}

// ListStageExecutions returns a session's stages ordered by stage index.
func (s *StageService) ListStageExecutions(ctx context.Context, sessionID string) ([]*models.StageExecution, error) {
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT `+stageColumns+` FROM stage_executions
		 WHERE session_id = $1 ORDER BY stage_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage executions: %w", err)
	}
	defer rows.Close()

	var stages []*models.StageExecution
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func scanStage(row rowScanner) (*models.StageExecution, error) {
	var stage models.StageExecution
	var output []byte
	err := row.Scan(
		&stage.ExecutionID, &stage.SessionID, &stage.StageID, &stage.StageIndex, &stage.AgentID,
		&stage.IterationStrategy, &stage.Status, &stage.StartedAtUs, &stage.CompletedAtUs,
		&stage.DurationMs, &output, &stage.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	stage.StageOutput = output
	return &stage, nil
}
