package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// SubmitAlertInput contains the domain-level data for one alert submission,
// transformed from the HTTP request by the handler.
type SubmitAlertInput struct {
	AlertID    string
	AlertType  string
	AlertData  map[string]any
	RunbookURL string
}

// ChainSnapshot is the resolved chain definition frozen onto the session at
// creation, so processing and timeline reconstruction never depend on the
// live registry.
type ChainSnapshot struct {
	ChainID       string          `json:"chain_id"`
	Description   string          `json:"description,omitempty"`
	AlertTypes    []string        `json:"alert_types"`
	LLMProvider   string          `json:"llm_provider,omitempty"`
	MaxIterations *int            `json:"max_iterations,omitempty"`
	MCPServers    []string        `json:"mcp_servers,omitempty"`
	Stages        []StageSnapshot `json:"stages"`
}

// StageSnapshot is one stage of a frozen chain definition.
type StageSnapshot struct {
	Name              string                   `json:"name"`
	AgentID           string                   `json:"agent"`
	IterationStrategy config.IterationStrategy `json:"iteration_strategy,omitempty"`
	MaxIterations     *int                     `json:"max_iterations,omitempty"`
	MCPServers        []string                 `json:"mcp_servers,omitempty"`
}

// SessionStore is the slice of the session repository the orchestrator
// needs. Implemented by SessionService; substituted by fakes in tests.
type SessionStore interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.AlertSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.AlertSession, error)
	MarkProcessing(ctx context.Context, sessionID string) error
	UpdateCurrentStage(ctx context.Context, sessionID string, stageIndex int, stageID string) error
	FinalizeSession(ctx context.Context, sessionID string, status models.SessionStatus, completedAtUs int64, finalAnalysis, errorMessage string) error
}

// StageStore is the slice of the stage repository the orchestrator needs.
type StageStore interface {
	CreateStageExecution(ctx context.Context, req models.CreateStageExecutionRequest) (*models.StageExecution, error)
	FinalizeStageExecution(ctx context.Context, req models.FinalizeStageExecutionRequest) error
}

// StageAgent executes one stage. Implemented by agent.Runtime; substituted
// by fakes in tests.
type StageAgent interface {
	ProcessAlert(ctx context.Context, processing *models.AlertProcessingData, inv agent.StageInvocation) *models.StageResult
}

// AgentFactory builds the per-stage agent with its session-scoped MCP
// connections. Release is called once per session after finalization.
type AgentFactory interface {
	AgentFor(ctx context.Context, sessionID string, chain *ChainSnapshot, stage *StageSnapshot) (StageAgent, error)
	Release(sessionID string)
}

// RunbookFetcher downloads runbook text for a URL.
type RunbookFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// AlertService is the chain orchestrator: it creates sessions from
// submissions and drives each accepted session through the
// resolve → runbook → stages → finalize state machine.
type AlertService struct {
	sessions      SessionStore
	stages        StageStore
	chainRegistry *config.ChainRegistry
	agents        AgentFactory
	runbooks      RunbookFetcher
	bus           *events.Bus
	masker        AlertMasker // nil disables alert payload masking
}

// AlertMasker redacts sensitive values from alert payload strings before
// they reach storage and prompts.
type AlertMasker interface {
	MaskAlertData(data string) string
}

// NewAlertService creates the orchestrator.
func NewAlertService(
	sessions SessionStore,
	stages StageStore,
	chainRegistry *config.ChainRegistry,
	agents AgentFactory,
	runbooks RunbookFetcher,
	bus *events.Bus,
) *AlertService {
	if sessions == nil {
		panic("NewAlertService: sessions must not be nil")
	}
	if stages == nil {
		panic("NewAlertService: stages must not be nil")
	}
	if chainRegistry == nil {
		panic("NewAlertService: chainRegistry must not be nil")
	}
	if agents == nil {
		panic("NewAlertService: agents must not be nil")
	}
	if bus == nil {
		panic("NewAlertService: bus must not be nil")
	}
	return &AlertService{
		sessions:      sessions,
		stages:        stages,
		chainRegistry: chainRegistry,
		agents:        agents,
		runbooks:      runbooks,
		bus:           bus,
	}
}

// WithMasking enables alert payload masking and returns the service.
func (s *AlertService) WithMasking(masker AlertMasker) *AlertService {
	s.masker = masker
	return s
}

// maskAlertPayload redacts string leaves of the opaque payload in place of
// the originals. Masking per leaf keeps the JSON structure intact.
func (s *AlertService) maskAlertPayload(data map[string]any) map[string]any {
	if s.masker == nil || len(data) == 0 {
		return data
	}
	var maskValue func(v any) any
	maskValue = func(v any) any {
		switch val := v.(type) {
		case string:
			return s.masker.MaskAlertData(val)
		case map[string]any:
			out := make(map[string]any, len(val))
			for k, inner := range val {
				out[k] = maskValue(inner)
			}
			return out
		case []any:
			out := make([]any, len(val))
			for i, inner := range val {
				out[i] = maskValue(inner)
			}
			return out
		default:
			return v
		}
	}
	masked := make(map[string]any, len(data))
	for k, v := range data {
		masked[k] = maskValue(v)
	}
	return masked
}

// SubmitAlert creates the session for a submitted alert. An unknown alert
// type still produces a session — immediately failed, with the known alert
// types listed in its error message and no stages created.
func (s *AlertService) SubmitAlert(ctx context.Context, input SubmitAlertInput) (*models.AlertSession, error) {
	if input.AlertType == "" {
		return nil, NewValidationError("alert_type", "required")
	}

	sessionID := uuid.New().String()
	alertID := input.AlertID
	if alertID == "" {
		alertID = uuid.New().String()
	}

	alertData, err := json.Marshal(s.maskAlertPayload(input.AlertData))
	if err != nil {
		return nil, NewValidationError("alert_data", fmt.Sprintf("not serializable: %v", err))
	}

	chainID, resolveErr := s.chainRegistry.GetIDByAlertType(input.AlertType)
	if resolveErr != nil {
		// UnknownAlertType: record the rejected submission as a failed
		// session so the audit trail covers it, then surface the error.
		snapshot, _ := json.Marshal(&ChainSnapshot{})
		startedAt := s.bus.Clock().Next(sessionID)
		session, createErr := s.sessions.CreateSession(ctx, models.CreateSessionRequest{
			SessionID:       sessionID,
			AlertID:         alertID,
			AlertType:       input.AlertType,
			ChainID:         "",
			ChainDefinition: snapshot,
			AlertData:       alertData,
			RunbookURL:      input.RunbookURL,
			StartedAtUs:     startedAt,
		})
		if createErr != nil {
			return nil, createErr
		}
		message := s.unknownAlertTypeMessage(input.AlertType)
		if finalizeErr := s.sessions.FinalizeSession(ctx, sessionID, models.SessionStatusFailed,
			s.bus.Clock().Next(sessionID), "", message); finalizeErr != nil {
			return nil, finalizeErr
		}
		s.bus.Clock().Forget(sessionID)
		session.Status = models.SessionStatusFailed
		session.ErrorMessage = &message
		return session, nil
	}

	chain, err := s.chainRegistry.Get(chainID)
	if err != nil {
		return nil, err
	}
	snapshot, err := json.Marshal(snapshotChain(chainID, chain))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot chain definition: %w", err)
	}

	return s.sessions.CreateSession(ctx, models.CreateSessionRequest{
		SessionID:       sessionID,
		AlertID:         alertID,
		AlertType:       input.AlertType,
		ChainID:         chainID,
		ChainDefinition: snapshot,
		AlertData:       alertData,
		RunbookURL:      input.RunbookURL,
		StartedAtUs:     s.bus.Clock().Next(sessionID),
	})
}

// unknownAlertTypeMessage lists the known alert types sorted
// lexicographically, so the caller can see what the registry would accept.
func (s *AlertService) unknownAlertTypeMessage(alertType string) string {
	var types []string
	for _, chain := range s.chainRegistry.GetAll() {
		types = append(types, chain.AlertTypes...)
	}
	sort.Strings(types)
	err := config.NewRuntimeError(config.KindUnknownAlertType,
		fmt.Errorf("no chain found for alert type %q (known alert types: %s)",
			alertType, strings.Join(types, ", ")))
	return err.Error()
}

// errorDetails renders the classified error kind into lifecycle event
// details, so the audit trail records the failure policy alongside the
// message.
func errorDetails(kind config.RuntimeErrorKind) json.RawMessage {
	details, err := json.Marshal(map[string]any{
		"kind":        kind,
		"recoverable": kind.Recoverable(),
	})
	if err != nil {
		return nil
	}
	return details
}

func snapshotChain(chainID string, chain *config.ChainConfig) *ChainSnapshot {
	snapshot := &ChainSnapshot{
		ChainID:       chainID,
		Description:   chain.Description,
		AlertTypes:    chain.AlertTypes,
		LLMProvider:   chain.LLMProvider,
		MaxIterations: chain.MaxIterations,
		MCPServers:    chain.MCPServers,
	}
	for _, stage := range chain.Stages {
		snapshot.Stages = append(snapshot.Stages, StageSnapshot{
			Name:              stage.Name,
			AgentID:           stage.AgentID,
			IterationStrategy: stage.IterationStrategy,
			MaxIterations:     stage.MaxIterations,
			MCPServers:        stage.MCPServers,
		})
	}
	return snapshot
}

// ProcessSession drives one accepted session through its chain. Stages run
// strictly in order and a failed stage never short-circuits the chain —
// later analytical stages still run against whatever was collected.
func (s *AlertService) ProcessSession(ctx context.Context, session *models.AlertSession) {
	sessionID := session.SessionID
	ctx = events.WithSession(ctx, sessionID)
	log := slog.With("session_id", sessionID, "chain_id", session.ChainID)
	defer s.bus.Clock().Forget(sessionID)
	defer s.agents.Release(sessionID)

	var chain ChainSnapshot
	if err := json.Unmarshal(session.ChainDefinition, &chain); err != nil || len(chain.Stages) == 0 {
		s.finalizeFailed(ctx, sessionID, fmt.Sprintf("invalid chain definition snapshot: %v", err))
		return
	}

	if err := s.sessions.MarkProcessing(ctx, sessionID); err != nil {
		log.Error("Failed to mark session processing", "error", err)
		return
	}
	s.publishLifecycle(ctx, &chain, "", models.LifecycleSessionStarted, "processing started",
		string(models.SessionStatusProcessing), 0)

	processing := s.rebuildProcessingData(session)
	processing.ChainID = chain.ChainID

	// Runbook download happens once, before any stage. A fetch failure is
	// non-fatal: the chain proceeds with an empty runbook and the failure
	// is recorded as a lifecycle event.
	if processing.RunbookURL != "" && s.runbooks != nil {
		content, err := s.runbooks.Fetch(ctx, processing.RunbookURL)
		if err != nil {
			log.Warn("Runbook fetch failed, continuing with empty runbook", "url", processing.RunbookURL, "error", err)
			s.bus.Publish(ctx, &events.SessionLifecycleEvent{
				SessionID: sessionID,
				EventType: models.LifecycleRunbookFetchError,
				Message:   fmt.Sprintf("failed to fetch runbook %s: %v", processing.RunbookURL, err),
				Details:   errorDetails(config.KindRunbookFetchError),
			})
		} else {
			processing.RunbookContent = content
			s.bus.Publish(ctx, &events.SessionLifecycleEvent{
				SessionID: sessionID,
				EventType: models.LifecycleRunbookReady,
				Message:   fmt.Sprintf("runbook fetched (%d bytes)", len(content)),
			})
		}
	}

	completedStages := 0
	succeeded, failed := 0, 0

	for i := range chain.Stages {
		stage := &chain.Stages[i]

		if ctx.Err() != nil {
			// Cancelled between stages: no further stage rows are created.
			s.publishCancellation(ctx, &chain, stage.Name, completedStages)
			s.finalizeFailed(context.WithoutCancel(ctx), sessionID, "cancelled")
			return
		}

		executionID := uuid.New().String()
		stageCtx := events.WithStageExecution(ctx, executionID)

		if _, err := s.stages.CreateStageExecution(ctx, models.CreateStageExecutionRequest{
			ExecutionID:       executionID,
			SessionID:         sessionID,
			StageID:           stage.Name,
			StageIndex:        i,
			AgentID:           stage.AgentID,
			IterationStrategy: string(s.strategyLabel(stage)),
			StartedAtUs:       s.bus.Clock().Next(sessionID),
		}); err != nil {
			log.Error("Failed to create stage execution", "stage", stage.Name, "error", err)
			s.finalizeFailed(ctx, sessionID, fmt.Sprintf("failed to create stage execution for %q: %v", stage.Name, err))
			return
		}
		if err := s.sessions.UpdateCurrentStage(ctx, sessionID, i, stage.Name); err != nil {
			log.Error("Failed to update current stage pointer", "stage", stage.Name, "error", err)
		}
		processing.CurrentStageName = stage.Name
		s.publishLifecycle(stageCtx, &chain, stage.Name, models.LifecycleStageStarted,
			fmt.Sprintf("stage %q started (agent %s)", stage.Name, stage.AgentID),
			string(models.SessionStatusProcessing), completedStages)

		result := s.runStage(stageCtx, sessionID, executionID, &chain, stage, processing)

		if ctx.Err() != nil {
			// Cancelled mid-stage: the current stage fails with the
			// literal "cancelled" message and the session fails.
			cleanCtx := context.WithoutCancel(ctx)
			if err := s.stages.FinalizeStageExecution(cleanCtx, models.FinalizeStageExecutionRequest{
				ExecutionID:   executionID,
				Status:        models.StageStatusFailed,
				CompletedAtUs: s.bus.Clock().Next(sessionID),
				ErrorMessage:  "cancelled",
			}); err != nil {
				log.Error("Failed to finalize cancelled stage", "stage", stage.Name, "error", err)
			}
			s.publishCancellation(cleanCtx, &chain, stage.Name, completedStages)
			s.finalizeFailed(cleanCtx, sessionID, "cancelled")
			return
		}

		processing.RecordStageOutput(stage.Name, result)
		completedStages++

		if result.Succeeded() {
			succeeded++
			output, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				output = []byte(`{"status":"success"}`)
			}
			if err := s.stages.FinalizeStageExecution(ctx, models.FinalizeStageExecutionRequest{
				ExecutionID:   executionID,
				Status:        models.StageStatusCompleted,
				CompletedAtUs: s.bus.Clock().Next(sessionID),
				StageOutput:   output,
			}); err != nil {
				log.Error("Failed to finalize stage execution", "stage", stage.Name, "error", err)
			}
			s.publishLifecycle(stageCtx, &chain, stage.Name, models.LifecycleStageCompleted,
				fmt.Sprintf("stage %q completed", stage.Name),
				string(models.SessionStatusProcessing), completedStages)
		} else {
			failed++
			if err := s.stages.FinalizeStageExecution(ctx, models.FinalizeStageExecutionRequest{
				ExecutionID:   executionID,
				Status:        models.StageStatusFailed,
				CompletedAtUs: s.bus.Clock().Next(sessionID),
				ErrorMessage:  result.ErrorMessage,
			}); err != nil {
				log.Error("Failed to finalize stage execution", "stage", stage.Name, "error", err)
			}
			s.publishLifecycle(stageCtx, &chain, stage.Name, models.LifecycleStageFailed,
				fmt.Sprintf("stage %q failed: %s", stage.Name, result.ErrorMessage),
				string(models.SessionStatusProcessing), completedStages)
			log.Warn("Stage failed, continuing chain", "stage", stage.Name, "error", result.ErrorMessage)
		}
	}

	status := finalStatus(succeeded, failed)
	finalAnalysis := extractFinalAnalysis(processing, chain.ChainID)
	var errorMessage string
	if status == models.SessionStatusFailed {
		errorMessage = fmt.Sprintf("all %d stages failed", failed)
	}

	if err := s.sessions.FinalizeSession(ctx, sessionID, status,
		s.bus.Clock().Next(sessionID), finalAnalysis, errorMessage); err != nil {
		log.Error("Failed to finalize session", "error", err)
		return
	}
	s.publishLifecycle(ctx, &chain, "", models.LifecycleSessionFinalized,
		fmt.Sprintf("session finalized: %s", status), string(status), completedStages)
	log.Info("Session finalized", "status", status, "succeeded", succeeded, "failed", failed)
}

// runStage invokes the stage's agent. Factory errors become error results,
// never panics or escaping errors — the chain must keep moving.
func (s *AlertService) runStage(ctx context.Context, sessionID, executionID string, chain *ChainSnapshot, stage *StageSnapshot, processing *models.AlertProcessingData) *models.StageResult {
	stageAgent, err := s.agents.AgentFor(ctx, sessionID, chain, stage)
	if err != nil {
		return &models.StageResult{
			Status:       models.StageResultError,
			ErrorMessage: fmt.Sprintf("failed to build agent %q: %v", stage.AgentID, err),
			Strategy:     s.strategyLabel(stage),
			TimestampUs:  s.bus.Clock().Next(sessionID),
		}
	}

	maxIterations := stage.MaxIterations
	if maxIterations == nil {
		maxIterations = chain.MaxIterations
	}

	return stageAgent.ProcessAlert(ctx, processing, agent.StageInvocation{
		SessionID:        sessionID,
		StageExecutionID: executionID,
		StageName:        stage.Name,
		Strategy:         stage.IterationStrategy,
		MaxIterations:    maxIterations,
	})
}

// strategyLabel is the best-effort strategy recorded on the stage row; the
// runtime applies the authoritative stage → agent → default resolution.
func (s *AlertService) strategyLabel(stage *StageSnapshot) config.IterationStrategy {
	if stage.IterationStrategy != "" {
		return stage.IterationStrategy
	}
	return config.StrategyReact
}

// rebuildProcessingData reconstructs the enrichment record from the
// persisted session row. A corrupted payload snapshot degrades to an empty
// payload rather than failing the chain.
func (s *AlertService) rebuildProcessingData(session *models.AlertSession) *models.AlertProcessingData {
	alertData := map[string]any{}
	if len(session.AlertData) > 0 {
		if err := json.Unmarshal(session.AlertData, &alertData); err != nil {
			slog.Warn("Failed to decode alert data snapshot, continuing with empty payload",
				"session_id", session.SessionID, "error", err)
			alertData = map[string]any{}
		}
	}
	return models.NewAlertProcessingData(session.AlertID, session.AlertType, alertData, session.RunbookURL)
}

func (s *AlertService) publishLifecycle(ctx context.Context, chain *ChainSnapshot, currentStage, eventType, message, status string, completedStages int) {
	s.bus.Publish(ctx, &events.SessionLifecycleEvent{
		EventType:       eventType,
		Message:         message,
		ChainID:         chain.ChainID,
		CurrentStage:    currentStage,
		TotalStages:     len(chain.Stages),
		CompletedStages: completedStages,
		Status:          status,
	})
}

func (s *AlertService) publishCancellation(ctx context.Context, chain *ChainSnapshot, currentStage string, completedStages int) {
	s.bus.Publish(ctx, &events.SessionLifecycleEvent{
		EventType:       models.LifecycleCancelled,
		Message:         "processing cancelled",
		Details:         errorDetails(config.KindCancelled),
		ChainID:         chain.ChainID,
		CurrentStage:    currentStage,
		TotalStages:     len(chain.Stages),
		CompletedStages: completedStages,
		Status:          string(models.SessionStatusFailed),
	})
}

func (s *AlertService) finalizeFailed(ctx context.Context, sessionID, message string) {
	if err := s.sessions.FinalizeSession(ctx, sessionID, models.SessionStatusFailed,
		s.bus.Clock().Next(sessionID), "", message); err != nil {
		slog.Error("Failed to finalize failed session", "session_id", sessionID, "error", err)
	}
}

// finalStatus maps stage outcomes to the session's terminal status:
// completed when everything succeeded, partial when some did, failed when
// nothing did.
func finalStatus(succeeded, failed int) models.SessionStatus {
	switch {
	case failed == 0:
		return models.SessionStatusCompleted
	case succeeded > 0:
		return models.SessionStatusPartial
	default:
		return models.SessionStatusFailed
	}
}

// extractFinalAnalysis walks stage outputs newest-first and returns the
// first successful analysis; with none, a minimal summary cites the chain
// and stage count.
func extractFinalAnalysis(processing *models.AlertProcessingData, chainID string) string {
	outputs := processing.StageOutputs()
	for i := len(outputs) - 1; i >= 0; i-- {
		result := outputs[i]
		if result.Succeeded() && result.Analysis != "" {
			return result.Analysis
		}
	}
	return fmt.Sprintf("chain %s executed %d stages; no stage produced an analysis", chainID, len(outputs))
}
