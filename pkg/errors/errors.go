// Package errors defines the tagged error taxonomy used across flowkit.
//
// Every failure raised by the workflow core is an *Error (or a subtype
// embedding it) carrying a stable code, a category, a severity, whether the
// condition is recoverable, suggested recovery actions, a structured context
// map and an optional cause chain. Errors should be checked with the standard
// library errors.Is / errors.As.
package errors

import (
	"fmt"
	"time"
)

// Category classifies the failure domain of an error.
type Category string

// Error categories.
const (
	CategoryValidation    Category = "validation"
	CategoryDependency    Category = "dependency"
	CategoryResource      Category = "resource"
	CategoryExecution     Category = "execution"
	CategoryNetwork       Category = "network"
	CategoryIO            Category = "io"
	CategoryConfiguration Category = "configuration"
	CategoryPermission    Category = "permission"
	CategoryTimeout       Category = "timeout"
	CategoryExternalAPI   Category = "external_api"
)

// Severity indicates how serious a failure is.
type Severity string

// Error severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// RecoveryAction is a suggested way to recover from a failure.
type RecoveryAction string

// Recovery actions.
const (
	ActionRetry              RecoveryAction = "retry"
	ActionSkip               RecoveryAction = "skip"
	ActionFallback           RecoveryAction = "fallback"
	ActionManualIntervention RecoveryAction = "manual_intervention"
	ActionAbort              RecoveryAction = "abort"
)

// Error is the base tagged error for the workflow core.
type Error struct {
	// Code is a stable machine-readable error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// Category classifies the failure domain.
	Category Category

	// Severity indicates how serious the failure is.
	Severity Severity

	// Recoverable reports whether the caller can reasonably recover.
	Recoverable bool

	// RecoveryActions lists suggested recovery actions, most preferred first.
	RecoveryActions []RecoveryAction

	// Context carries structured context (project_id, step_name, execution_id, ...).
	Context map[string]any

	// Cause is the underlying error, if any.
	Cause error

	// Timestamp records when the error was created.
	Timestamp time.Time
}

// Error returns the error message, including the cause chain when present.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// baseError aliases Error for embedding in subtypes. Embedding under the
// alias name keeps the embedded field from shadowing the promoted Error
// method, so subtypes still implement the error interface.
type baseError = Error

// WithContext merges the given keys into the error's context map and returns
// the error for chaining.
func (e *Error) WithContext(keysAndValues map[string]any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, len(keysAndValues))
	}
	for k, v := range keysAndValues {
		e.Context[k] = v
	}
	return e
}

// ToMap returns a JSON-friendly representation of the error.
func (e *Error) ToMap() map[string]any {
	m := map[string]any{
		"error_code":  e.Code,
		"message":     e.Message,
		"category":    string(e.Category),
		"severity":    string(e.Severity),
		"recoverable": e.Recoverable,
		"timestamp":   e.Timestamp.Format(time.RFC3339),
	}
	if len(e.RecoveryActions) > 0 {
		actions := make([]string, len(e.RecoveryActions))
		for i, a := range e.RecoveryActions {
			actions[i] = string(a)
		}
		m["recovery_actions"] = actions
	}
	if len(e.Context) > 0 {
		m["context"] = e.Context
	}
	if e.Cause != nil {
		m["cause"] = e.Cause.Error()
	}
	return m
}

// New creates a base workflow engine error.
func New(code, message string, category Category) *Error {
	return &Error{
		Code:            code,
		Message:         message,
		Category:        category,
		Severity:        SeverityError,
		Recoverable:     true,
		RecoveryActions: []RecoveryAction{ActionRetry},
		Timestamp:       time.Now().UTC(),
	}
}

// NewWorkflowEngineError creates a generic engine error with the given code
// and category.
func NewWorkflowEngineError(message, code string, category Category) *Error {
	return New(code, message, category)
}

// ErrorContext builds the standard structured context map. Empty identifiers
// are omitted; custom keys override the standard ones on collision.
func ErrorContext(projectID, stepName, executionID string, custom map[string]any) map[string]any {
	ctx := make(map[string]any, 3+len(custom))
	if projectID != "" {
		ctx["project_id"] = projectID
	}
	if stepName != "" {
		ctx["step_name"] = stepName
	}
	if executionID != "" {
		ctx["execution_id"] = executionID
	}
	for k, v := range custom {
		ctx[k] = v
	}
	return ctx
}

// StepExecutionError indicates a step implementation failed.
type StepExecutionError struct {
	*baseError

	// StepName identifies the failing step.
	StepName string

	// Phase is the execution phase index the step ran in, -1 when unknown.
	Phase int
}

// NewStepExecutionError creates a step execution failure for the given step.
func NewStepExecutionError(stepName, message string, cause error, context map[string]any) *StepExecutionError {
	base := New("STEP_EXECUTION_FAILED", message, CategoryExecution)
	base.Cause = cause
	base.Context = context
	base.RecoveryActions = []RecoveryAction{ActionRetry, ActionManualIntervention}
	return &StepExecutionError{baseError: base, StepName: stepName, Phase: -1}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *StepExecutionError) Unwrap() error { return e.baseError }

// DependencyError indicates unsatisfied step dependencies.
type DependencyError struct {
	*baseError

	// MissingDependencies lists the dependency names that are not satisfied.
	MissingDependencies []string
}

// NewDependencyError creates a dependency failure listing the missing steps.
func NewDependencyError(message string, missing []string, context map[string]any) *DependencyError {
	base := New("DEPENDENCY_NOT_SATISFIED", message, CategoryDependency)
	base.Context = context
	base.RecoveryActions = []RecoveryAction{ActionSkip, ActionManualIntervention}
	return &DependencyError{baseError: base, MissingDependencies: missing}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *DependencyError) Unwrap() error { return e.baseError }

// CircularDependencyError indicates a dependency cycle in a workflow graph.
// It is never recoverable.
type CircularDependencyError struct {
	*baseError

	// DependencyChain is the detected cycle, in dependency order.
	DependencyChain []string
}

// NewCircularDependencyError creates a circular dependency failure carrying
// the detected cycle.
func NewCircularDependencyError(chain []string, context map[string]any) *CircularDependencyError {
	base := New("CIRCULAR_DEPENDENCY", fmt.Sprintf("circular dependency detected: %v", chain), CategoryDependency)
	base.Severity = SeverityCritical
	base.Recoverable = false
	base.RecoveryActions = []RecoveryAction{ActionAbort}
	base.Context = context
	return &CircularDependencyError{baseError: base, DependencyChain: chain}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *CircularDependencyError) Unwrap() error { return e.baseError }

// ResourceLimitError indicates a named resource could not satisfy a request.
type ResourceLimitError struct {
	*baseError

	// ResourceName is the resource that was requested.
	ResourceName string

	// Requested describes the requested amount.
	Requested string

	// Available describes the available amount.
	Available string
}

// NewResourceLimitError creates a resource limit failure.
func NewResourceLimitError(resourceName, requested, available string, context map[string]any) *ResourceLimitError {
	base := New("RESOURCE_LIMIT_EXCEEDED",
		fmt.Sprintf("resource limit exceeded for %s (requested: %s, available: %s)", resourceName, requested, available),
		CategoryResource)
	base.Context = context
	base.RecoveryActions = []RecoveryAction{ActionRetry, ActionFallback}
	return &ResourceLimitError{baseError: base, ResourceName: resourceName, Requested: requested, Available: available}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *ResourceLimitError) Unwrap() error { return e.baseError }

// NewResourceUnavailableError creates a resource failure for a resource that
// is currently held by other work.
func NewResourceUnavailableError(resourceName string, context map[string]any) *ResourceLimitError {
	e := NewResourceLimitError(resourceName, "1", "0", context)
	e.Code = "RESOURCE_UNAVAILABLE"
	e.Message = fmt.Sprintf("resource unavailable: %s", resourceName)
	return e
}

// ValidationError indicates invalid input. It is fatal for the attempt.
type ValidationError struct {
	*baseError

	// Field is the offending field name.
	Field string

	// Value is the offending value.
	Value any

	// Rule describes the violated rule.
	Rule string
}

// NewValidationError creates a validation failure for the given field.
func NewValidationError(field string, value any, rule string, context map[string]any) *ValidationError {
	base := New("VALIDATION_FAILED",
		fmt.Sprintf("validation failed for field %q: %s", field, rule),
		CategoryValidation)
	base.Recoverable = false
	base.RecoveryActions = []RecoveryAction{ActionManualIntervention}
	base.Context = context
	return &ValidationError{baseError: base, Field: field, Value: value, Rule: rule}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *ValidationError) Unwrap() error { return e.baseError }

// TimeoutError indicates an operation exceeded its time budget.
type TimeoutError struct {
	*baseError

	// Operation names the operation that timed out.
	Operation string

	// TimeoutSeconds is the configured budget.
	TimeoutSeconds float64

	// ElapsedSeconds is the observed elapsed time.
	ElapsedSeconds float64
}

// NewTimeoutError creates a timeout failure for the given operation.
func NewTimeoutError(operation string, timeoutSeconds, elapsedSeconds float64, context map[string]any) *TimeoutError {
	base := New("OPERATION_TIMEOUT",
		fmt.Sprintf("operation %q timed out after %.2fs (budget: %.2fs)", operation, elapsedSeconds, timeoutSeconds),
		CategoryTimeout)
	base.Context = context
	base.RecoveryActions = []RecoveryAction{ActionRetry, ActionAbort}
	return &TimeoutError{baseError: base, Operation: operation, TimeoutSeconds: timeoutSeconds, ElapsedSeconds: elapsedSeconds}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *TimeoutError) Unwrap() error { return e.baseError }

// ExternalAPIError indicates a failure reported by an external AI/TTS/video
// service.
type ExternalAPIError struct {
	*baseError

	// APIName identifies the external service.
	APIName string

	// HTTPStatus is the HTTP status code, 0 when not applicable.
	HTTPStatus int

	// APIErrorCode is the service-specific error code, if any.
	APIErrorCode string
}

// NewExternalAPIError creates an external API failure.
func NewExternalAPIError(apiName, message string, httpStatus int, apiErrorCode string, cause error) *ExternalAPIError {
	base := New("EXTERNAL_API_ERROR",
		fmt.Sprintf("%s: %s", apiName, message),
		CategoryExternalAPI)
	base.Cause = cause
	base.RecoveryActions = []RecoveryAction{ActionRetry, ActionFallback}
	return &ExternalAPIError{baseError: base, APIName: apiName, HTTPStatus: httpStatus, APIErrorCode: apiErrorCode}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *ExternalAPIError) Unwrap() error { return e.baseError }

// ConfigurationError indicates invalid or missing configuration. It is never
// recoverable at runtime.
type ConfigurationError struct {
	*baseError

	// ConfigKey is the offending configuration key.
	ConfigKey string

	// ExpectedType describes the expected value type.
	ExpectedType string
}

// NewConfigurationError creates a configuration failure for the given key.
func NewConfigurationError(configKey, message, expectedType string) *ConfigurationError {
	base := New("CONFIGURATION_ERROR", message, CategoryConfiguration)
	base.Severity = SeverityCritical
	base.Recoverable = false
	base.RecoveryActions = []RecoveryAction{ActionManualIntervention}
	return &ConfigurationError{baseError: base, ConfigKey: configKey, ExpectedType: expectedType}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *ConfigurationError) Unwrap() error { return e.baseError }

// RecoveryError indicates a recovery action itself failed.
type RecoveryError struct {
	*baseError

	// FailedAction is the recovery action that failed.
	FailedAction RecoveryAction

	// OriginalError is the error the action was trying to recover from.
	OriginalError error
}

// NewRecoveryError creates a failure for a recovery action, preserving the
// original error it was attempting to handle.
func NewRecoveryError(action RecoveryAction, message string, original, cause error) *RecoveryError {
	base := New("RECOVERY_FAILED", message, CategoryExecution)
	base.Severity = SeverityCritical
	base.Cause = cause
	base.RecoveryActions = []RecoveryAction{ActionManualIntervention, ActionAbort}
	return &RecoveryError{baseError: base, FailedAction: action, OriginalError: original}
}

// Unwrap exposes the embedded base error so errors.As can match *Error.
func (e *RecoveryError) Unwrap() error { return e.baseError }

// NewFileSystemError creates an IO-category failure raised by the project
// filesystem manager.
func NewFileSystemError(message string, cause error) *Error {
	e := New("FILE_SYSTEM_ERROR", message, CategoryIO)
	e.Cause = cause
	e.RecoveryActions = []RecoveryAction{ActionRetry, ActionManualIntervention}
	return e
}

// NewProjectDataAccessError creates an IO-category failure raised by the
// metadata repository. The message should name the failing operation.
func NewProjectDataAccessError(message string, cause error) *Error {
	e := New("PROJECT_DATA_ACCESS_ERROR", message, CategoryIO)
	e.Cause = cause
	e.RecoveryActions = []RecoveryAction{ActionRetry, ActionManualIntervention}
	return e
}

// NewDataIntegrationError creates a failure raised by the data integration
// layer.
func NewDataIntegrationError(message string, cause error) *Error {
	e := New("DATA_INTEGRATION_ERROR", message, CategoryIO)
	e.Cause = cause
	e.RecoveryActions = []RecoveryAction{ActionRetry, ActionManualIntervention}
	return e
}
