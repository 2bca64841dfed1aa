// Package workflow provides the dependency-resolving, parallelism-aware
// execution core that drives a DAG of heterogeneous processing steps to
// completion.
//
// A workflow is a named set of step definitions registered with the [Engine].
// The engine plans execution as phases of concurrently-runnable steps,
// dispatches each phase through the [ParallelExecutionManager], arbitrates
// named resources through a [ResourceManager], and tracks per-project progress
// in an [ExecutionState].
package workflow

import (
	"context"
	"time"

	"github.com/yukkuristudio/flowkit/pkg/errors"
)

// StepStatus is the lifecycle state of a step.
type StepStatus string

// Step statuses. Valid transitions are
// pending -> running -> {completed | failed | skipped | cancelled}.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCancelled StepStatus = "cancelled"
)

// StepPriority is informational step priority. It is reserved: the resolver
// does not use it for ordering.
type StepPriority int

// Step priorities.
const (
	PriorityLow      StepPriority = 1
	PriorityNormal   StepPriority = 2
	PriorityHigh     StepPriority = 3
	PriorityCritical StepPriority = 4
)

// String returns the symbolic priority name.
func (p StepPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// StepExecutionContext carries the per-attempt execution environment handed
// to a step implementation. It is read-only to the step.
type StepExecutionContext struct {
	// ProjectID is the project the step runs for.
	ProjectID string

	// StepName is the symbolic step name.
	StepName string

	// ExecutionID is a unique id generated freshly per attempt.
	ExecutionID string

	// StartedAt is when the attempt started.
	StartedAt time.Time

	// UserContext carries caller-supplied context values.
	UserContext map[string]any

	// EnvironmentVars carries environment variables for the step.
	EnvironmentVars map[string]string

	// ResourceLimits carries resource limit hints for the step.
	ResourceLimits map[string]any
}

// StepResult is the outcome of a single step attempt.
type StepResult struct {
	// Status is the terminal status of the attempt.
	Status StepStatus

	// OutputData is the step's output map. Must be JSON-serializable.
	OutputData map[string]any

	// ErrorMessage describes the failure when Status is failed.
	ErrorMessage string

	// ExecutionTimeSeconds is the measured execution time.
	ExecutionTimeSeconds float64

	// ResourceUsage is a free-form resource usage snapshot.
	ResourceUsage map[string]any

	// Artifacts lists project-relative paths of files the step produced.
	Artifacts []string
}

// ToMap returns a JSON-friendly representation of the result.
func (r *StepResult) ToMap() map[string]any {
	return map[string]any{
		"status":                 string(r.Status),
		"output_data":            r.OutputData,
		"error_message":          r.ErrorMessage,
		"execution_time_seconds": r.ExecutionTimeSeconds,
		"resource_usage":         r.ResourceUsage,
		"artifacts":              r.Artifacts,
	}
}

// StepDefinition is the immutable data model of a workflow step.
type StepDefinition struct {
	// StepID is the ordinal id, unique within a workflow, >= 1.
	StepID int

	// StepName is the symbolic name, unique within a workflow. It is the key
	// used everywhere: dependencies, processor registration, step records.
	StepName string

	// DisplayName is the human-readable name.
	DisplayName string

	// Description describes what the step does.
	Description string

	// Dependencies lists step names that must complete before this step.
	Dependencies []string

	// Priority is informational and reserved for future scheduling use.
	Priority StepPriority

	// Timeout bounds a single attempt. Zero means the engine default.
	Timeout time.Duration

	// RetryCount is the retry budget available to the step implementation.
	// The engine itself does not retry failed steps.
	RetryCount int

	// CanSkip marks the step as skippable.
	CanSkip bool

	// CanRunParallel marks the step as safe for intra-phase concurrency.
	CanRunParallel bool

	// RequiredResources names the logical resources the step needs.
	RequiredResources []string
}

// Validate checks the definition's structural invariants.
func (d *StepDefinition) Validate() error {
	if d.StepID < 1 {
		return errors.NewValidationError("step_id", d.StepID, "must be positive", nil)
	}
	if d.StepName == "" {
		return errors.NewValidationError("step_name", d.StepName, "cannot be empty", nil)
	}
	if d.RetryCount < 0 {
		return errors.NewValidationError("retry_count", d.RetryCount, "cannot be negative", nil)
	}
	return nil
}

// StepProcessor is the capability interface a step implementation satisfies.
//
// Execute is synchronous from the caller's point of view; the parallel
// execution manager runs it on a worker goroutine so it never blocks the
// scheduler. Implementations that want to honor cancellation must observe
// the supplied context.
type StepProcessor interface {
	// Execute runs the step and returns its result.
	Execute(ctx context.Context, ec *StepExecutionContext, input map[string]any) (*StepResult, error)

	// ValidateInput checks the input map before execution.
	ValidateInput(input map[string]any) error

	// RequiredDependencies returns the step names this processor depends on.
	RequiredDependencies() []string

	// CanRunConcurrentlyWith reports whether this step may run concurrently
	// with the named other step.
	CanRunConcurrentlyWith(otherStep string) bool

	// EstimateExecutionTime estimates how long the step will take for the
	// given input.
	EstimateExecutionTime(input map[string]any) time.Duration
}

// AsyncStepProcessor is an optional capability for processors with a natively
// asynchronous execution path. The parallel execution manager prefers
// ExecuteAsync when a processor implements it.
type AsyncStepProcessor interface {
	StepProcessor

	// ExecuteAsync runs the step without requiring worker-pool offload.
	ExecuteAsync(ctx context.Context, ec *StepExecutionContext, input map[string]any) (*StepResult, error)
}

// DependencyResolver orders step definitions into execution phases.
type DependencyResolver interface {
	// ResolveExecutionOrder returns the execution phases; each inner slice is
	// a set of concurrently-runnable step names. The concatenation of all
	// phases is a permutation of the step names.
	ResolveExecutionOrder(defs []StepDefinition) ([][]string, error)

	// CheckDependenciesSatisfied reports whether all dependencies of the
	// named step are in the completed set.
	CheckDependenciesSatisfied(stepName string, completed map[string]struct{}) bool

	// FindCircularDependencies returns every dependency cycle found in the
	// definitions, or an empty slice when the graph is acyclic.
	FindCircularDependencies(defs []StepDefinition) [][]string
}

// ResourceManager arbitrates named logical resources across parallel steps.
type ResourceManager interface {
	// AcquireResources acquires all named resources for the holder, or none.
	// It retries until the context is done and reports whether acquisition
	// succeeded.
	AcquireResources(ctx context.Context, holder string, names []string) (bool, error)

	// ReleaseResources releases the holder's claim on the named resources.
	// Releasing resources the holder does not hold is a no-op.
	ReleaseResources(holder string, names []string)

	// IsResourceAvailable reports whether the named resource has capacity.
	IsResourceAvailable(name string) bool

	// ResourceUsage returns a snapshot of pool capacities and allocations.
	ResourceUsage() map[string]any
}
