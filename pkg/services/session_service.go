package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SessionService owns the alert_sessions table: creation, stage-pointer
// updates, idempotent finalization, pagination queries, and retention.
type SessionService struct {
	client *database.Client
}

// NewSessionService creates a new SessionService.
func NewSessionService(client *database.Client) *SessionService {
	if client == nil {
		panic("NewSessionService: client must not be nil")
	}
	return &SessionService{client: client}
}

const sessionColumns = `session_id, alert_id, alert_type, chain_id, chain_definition,
	alert_data, runbook_url, status, current_stage_index, current_stage_id,
	started_at_us, completed_at_us, final_analysis, error_message, deleted_at`

// CreateSession inserts a new session in pending status.
func (s *SessionService) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.AlertSession, error) {
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if req.AlertType == "" {
		return nil, NewValidationError("alert_type", "required")
	}
	if req.ChainID == "" {
		return nil, NewValidationError("chain_id", "required")
	}

	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO alert_sessions (
			session_id, alert_id, alert_type, chain_id, chain_definition,
			alert_data, runbook_url, status, started_at_us
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.SessionID, req.AlertID, req.AlertType, req.ChainID, []byte(req.ChainDefinition),
		nullableJSON(req.AlertData), nullableString(req.RunbookURL),
		models.SessionStatusPending, req.StartedAtUs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.GetSession(ctx, req.SessionID)
}

// GetSession fetches one session by id.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.AlertSession, error) {
	row := s.client.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM alert_sessions WHERE session_id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, err
}

// MarkProcessing transitions a pending session to processing. Returns
// ErrAlreadyFinalized if the session is already past pending.
func (s *SessionService) MarkProcessing(ctx context.Context, sessionID string) error {
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE alert_sessions SET status = $1
		WHERE session_id = $2 AND status = $3`,
		models.SessionStatusProcessing, sessionID, models.SessionStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark session processing: %w", err)
	}
	return requireRowAffected(res, sessionID)
}

// UpdateCurrentStage records the session's active stage pointer.
func (s *SessionService) UpdateCurrentStage(ctx context.Context, sessionID string, stageIndex int, stageID string) error {
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE alert_sessions SET current_stage_index = $1, current_stage_id = $2
		WHERE session_id = $3`,
		stageIndex, stageID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update current stage: %w", err)
	}
	return requireRowAffected(res, sessionID)
}

// FinalizeSession writes the single terminal update. Idempotent: a second
// call is a no-op and the session keeps its first terminal state.
func (s *SessionService) FinalizeSession(ctx context.Context, sessionID string, status models.SessionStatus, completedAtUs int64, finalAnalysis, errorMessage string) error {
	if !status.IsTerminal() {
		return NewValidationError("status", fmt.Sprintf("%q is not a terminal status", status))
	}

	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE alert_sessions
		SET status = $1, completed_at_us = $2, final_analysis = $3, error_message = $4
		WHERE session_id = $5 AND status IN ($6, $7)`,
		status, completedAtUs, nullableString(finalAnalysis), nullableString(errorMessage),
		sessionID, models.SessionStatusPending, models.SessionStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either missing or already terminal; distinguish for the caller.
		if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
			return getErr
		}
		return nil // already terminal — idempotent no-op
	}
	return nil
}

// ListSessions returns one page of sessions matching the filters, sorted by
// started_at_us descending. Soft-deleted sessions are excluded.
func (s *SessionService) ListSessions(ctx context.Context, filters models.SessionFilters) (*models.SessionListResponse, error) {
	page := filters.Page
	if page < 1 {
		page = 1
	}
	size := filters.Size
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	where := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Status != "" {
		where = append(where, "status = "+arg(filters.Status))
	}
	if filters.AlertType != "" {
		where = append(where, "alert_type = "+arg(filters.AlertType))
	}
	if filters.ChainID != "" {
		where = append(where, "chain_id = "+arg(filters.ChainID))
	}
	if filters.StartedAfter != nil {
		where = append(where, "started_at_us >= "+arg(filters.StartedAfter.UnixMicro()))
	}
	if filters.StartedBefore != nil {
		where = append(where, "started_at_us < "+arg(filters.StartedBefore.UnixMicro()))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.client.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alert_sessions WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM alert_sessions WHERE ` + whereClause +
		` ORDER BY started_at_us DESC LIMIT ` + arg(size) + ` OFFSET ` + arg((page-1)*size)

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.AlertSession, 0, size)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.SessionListResponse{
		Sessions:   sessions,
		TotalCount: total,
		Page:       page,
		Size:       size,
	}, nil
}

// SoftDeleteOldSessions marks terminal sessions older than the retention
// window as deleted. Returns the number of sessions affected.
func (s *SessionService) SoftDeleteOldSessions(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoffUs := nowUs() - int64(retentionDays)*24*3600*1_000_000

	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE alert_sessions SET deleted_at = now()
		WHERE deleted_at IS NULL
		  AND status IN ($1, $2, $3)
		  AND started_at_us < $4`,
		models.SessionStatusCompleted, models.SessionStatusPartial, models.SessionStatusFailed,
		cutoffUs)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.AlertSession, error) {
	var session models.AlertSession
	var chainDef, alertData []byte
	var runbookURL *string
	err := row.Scan(
		&session.SessionID, &session.AlertID, &session.AlertType, &session.ChainID, &chainDef,
		&alertData, &runbookURL,
		&session.Status, &session.CurrentStageIndex, &session.CurrentStageID,
		&session.StartedAtUs, &session.CompletedAtUs, &session.FinalAnalysis,
		&session.ErrorMessage, &session.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	session.ChainDefinition = chainDef
	session.AlertData = alertData
	if runbookURL != nil {
		session.RunbookURL = *runbookURL
	}
	return &session, nil
}

func requireRowAffected(res sql.Result, sessionID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func nowUs() int64 {
	return time.Now().UnixMicro()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
