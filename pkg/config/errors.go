package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates configuration file was not found
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrAgentNotFound indicates agent was not found in registry
	ErrAgentNotFound = errors.New("agent not found")

	// ErrChainNotFound indicates chain was not found in registry
	ErrChainNotFound = errors.New("chain not found")

	// ErrMCPServerNotFound indicates MCP server was not found in registry
	ErrMCPServerNotFound = errors.New("MCP server not found")

	// ErrLLMProviderNotFound indicates LLM provider was not found in registry
	ErrLLMProviderNotFound = errors.New("LLM provider not found")

	// ErrInvalidReference indicates an invalid cross-reference in configuration
	ErrInvalidReference = errors.New("invalid configuration reference")

	// ErrMissingRequiredField indicates a required field is missing
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value
	ErrInvalidValue = errors.New("invalid field value")

	// ErrDuplicateChainID indicates the same chain id is defined by more
	// than one configuration source. Chains never merge or override.
	ErrDuplicateChainID = errors.New("duplicate chain id")
)

// ValidationError wraps configuration validation errors with context
type ValidationError struct {
	Component string // Component being validated (agent, chain, mcp_server, llm_provider)
	ID        string // ID of the component
	Field     string // Field name (optional)
	Err       error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{
		Component: component,
		ID:        id,
		Field:     field,
		Err:       err,
	}
}

// LoadError wraps configuration loading errors with file context
type LoadError struct {
	File string // Configuration file being loaded
	Err  error  // Underlying error
}

// Error returns formatted error message
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{
		File: file,
		Err:  err,
	}
}

// RuntimeErrorKind classifies an error raised while processing an alert, so
// callers can decide whether the failure terminates the session/stage or
// is absorbed and retried locally.
type RuntimeErrorKind string

const (
	// KindUnknownAlertType: no chain maps to the submitted alert type.
	// Raised by the orchestrator. Not recoverable: session fails, no
	// stages are created.
	KindUnknownAlertType RuntimeErrorKind = "unknown_alert_type"

	// KindConfigurationError: configuration failed to load or validate.
	// Raised at startup. Not recoverable: the process refuses to start.
	KindConfigurationError RuntimeErrorKind = "configuration_error"

	// KindRunbookFetchError: the configured runbook URL could not be
	// fetched. Raised by the orchestrator. Recoverable: processing
	// continues with an empty runbook; a lifecycle event is logged.
	KindRunbookFetchError RuntimeErrorKind = "runbook_fetch_error"

	// KindLLMError: an LLM call failed or timed out. Raised by an
	// iteration controller. Recoverable: treated as one failed loop
	// iteration and counted against the iteration budget.
	KindLLMError RuntimeErrorKind = "llm_error"

	// KindToolNotAvailable: the agent requested a tool that isn't in its
	// assigned MCP server catalog. Raised by an iteration controller.
	// Recoverable: surfaced to the LLM as an observation; the loop
	// continues.
	KindToolNotAvailable RuntimeErrorKind = "tool_not_available"

	// KindMCPToolError: an MCP tool call returned an error. Raised by an
	// iteration controller. Recoverable: surfaced to the LLM as an
	// observation; the loop continues.
	KindMCPToolError RuntimeErrorKind = "mcp_tool_error"

	// KindIterationBudgetExhausted: the agent did not reach a final
	// answer within its iteration budget. Raised by an iteration
	// controller. Not recoverable for the stage: the stage is marked
	// failed but the chain continues.
	KindIterationBudgetExhausted RuntimeErrorKind = "iteration_budget_exhausted"

	// KindStageAgentError: the agent runtime failed to execute a stage
	// for a reason other than budget exhaustion (e.g. a misconfigured
	// agent reference). Not recoverable for the stage: the stage is
	// marked failed but the chain continues.
	KindStageAgentError RuntimeErrorKind = "stage_agent_error"

	// KindCancelled: the caller cancelled processing. Raised by the
	// orchestrator. Not recoverable: the session and current stage both
	// fail.
	KindCancelled RuntimeErrorKind = "cancelled"
)

// Recoverable reports whether an error of this kind is absorbed locally by
// the iteration controller (true) or escalates to terminate its stage or
// session (false).
func (k RuntimeErrorKind) Recoverable() bool {
	switch k {
	case KindRunbookFetchError, KindLLMError, KindToolNotAvailable, KindMCPToolError:
		return true
	default:
		return false
	}
}

// RuntimeError is a classified error raised during alert processing. It
// carries enough context for the orchestrator and audit store to record
// the failure without needing to re-derive its policy from the message text.
type RuntimeError struct {
	Kind RuntimeErrorKind
	Err  error
}

// NewRuntimeError creates a classified runtime error.
func NewRuntimeError(kind RuntimeErrorKind, err error) *RuntimeError {
	return &RuntimeError{Kind: kind, Err: err}
}

// Error returns the formatted error message.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether this error is recoverable per its kind.
func (e *RuntimeError) Recoverable() bool {
	return e.Kind.Recoverable()
}
