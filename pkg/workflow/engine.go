package workflow

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/logger"
)

const (
	// DefaultMaxConcurrentSteps bounds intra-phase concurrency.
	DefaultMaxConcurrentSteps = 3

	// DefaultStepTimeout bounds a single step attempt.
	DefaultStepTimeout = 300 * time.Second

	// pausePollInterval is how often a paused execution re-checks its flags.
	pausePollInterval = 100 * time.Millisecond
)

// ProgressCallback receives the execution state at phase boundaries. The
// state is safe to query concurrently with the engine's writes.
type ProgressCallback func(state *ExecutionState)

// Engine registers workflows, plans their execution and runs them phase by
// phase with bounded concurrency, resource arbitration, cancellation and
// pause support. One engine instance may drive many projects concurrently;
// each project has its own execution state.
type Engine struct {
	resolver  DependencyResolver
	resources ResourceManager
	parallel  *ParallelExecutionManager
	deadlock  *DeadlockDetector

	maxConcurrentSteps int
	defaultStepTimeout time.Duration
	strictMerge        bool

	mu                  sync.RWMutex
	registeredWorkflows map[string][]StepDefinition
	stepProcessors      map[string]StepProcessor
	activeExecutions    map[string]*ExecutionState
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxConcurrentSteps sets the intra-phase concurrency ceiling.
func WithMaxConcurrentSteps(n int) EngineOption {
	return func(e *Engine) {
		if n >= 1 {
			e.maxConcurrentSteps = n
		}
	}
}

// WithDefaultStepTimeout sets the default per-step timeout applied when a
// step definition does not carry its own.
func WithDefaultStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.defaultStepTimeout = d
		}
	}
}

// WithStrictMerge makes the between-phase output merge reject key collisions
// instead of letting later steps overwrite earlier ones.
func WithStrictMerge() EngineOption {
	return func(e *Engine) {
		e.strictMerge = true
	}
}

// NewEngine creates a workflow engine with the given resolver and resource
// manager.
func NewEngine(resolver DependencyResolver, resources ResourceManager, opts ...EngineOption) *Engine {
	e := &Engine{
		resolver:            resolver,
		resources:           resources,
		deadlock:            NewDeadlockDetector(),
		maxConcurrentSteps:  DefaultMaxConcurrentSteps,
		defaultStepTimeout:  DefaultStepTimeout,
		registeredWorkflows: make(map[string][]StepDefinition),
		stepProcessors:      make(map[string]StepProcessor),
		activeExecutions:    make(map[string]*ExecutionState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parallel = NewParallelExecutionManager(e.maxConcurrentSteps, e.defaultStepTimeout)
	return e
}

// RegisterWorkflow validates and stores a workflow definition under the
// given name. Registration rejects invalid step definitions, dependencies on
// steps outside the workflow, and cyclic graphs.
func (e *Engine) RegisterWorkflow(workflowName string, defs []StepDefinition) error {
	known := make(map[string]struct{}, len(defs))
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return err
		}
		if _, dup := known[defs[i].StepName]; dup {
			return errors.NewValidationError("step_name", defs[i].StepName, "duplicate step name", nil)
		}
		known[defs[i].StepName] = struct{}{}
	}
	for i := range defs {
		for _, dep := range defs[i].Dependencies {
			if _, ok := known[dep]; !ok {
				return errors.NewDependencyError(
					fmt.Sprintf("step %s depends on unknown step %s", defs[i].StepName, dep),
					[]string{dep},
					map[string]any{"workflow_name": workflowName},
				)
			}
		}
	}

	if cycles := e.resolver.FindCircularDependencies(defs); len(cycles) > 0 {
		return errors.NewCircularDependencyError(cycles[0], map[string]any{"workflow_name": workflowName})
	}

	stored := make([]StepDefinition, len(defs))
	copy(stored, defs)

	e.mu.Lock()
	e.registeredWorkflows[workflowName] = stored
	e.mu.Unlock()

	logger.Infow("workflow registered", "workflow_name", workflowName, "steps", len(defs))
	return nil
}

// RegisterStepProcessor associates a step implementation with a step name.
// The association is global, not per workflow.
func (e *Engine) RegisterStepProcessor(stepName string, processor StepProcessor) {
	e.mu.Lock()
	e.stepProcessors[stepName] = processor
	e.mu.Unlock()

	logger.Infow("step processor registered", "step_name", stepName)
}

func (e *Engine) workflowDefs(workflowName string) ([]StepDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs, ok := e.registeredWorkflows[workflowName]
	if !ok {
		return nil, errors.NewWorkflowEngineError(
			fmt.Sprintf("workflow not registered: %s", workflowName),
			"WORKFLOW_NOT_FOUND",
			errors.CategoryValidation,
		)
	}
	return defs, nil
}

func (e *Engine) processor(stepName string) (StepProcessor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.stepProcessors[stepName]
	return p, ok
}

// PlanExecution resolves the workflow into an execution plan: ordered
// phases, estimated total time and per-step resource requirements.
func (e *Engine) PlanExecution(workflowName, projectID string) (*ExecutionPlan, error) {
	defs, err := e.workflowDefs(workflowName)
	if err != nil {
		return nil, err
	}

	phases, err := e.resolver.ResolveExecutionOrder(defs)
	if err != nil {
		return nil, err
	}

	requirements := make(map[string][]string, len(defs))
	var estimated time.Duration
	for _, def := range defs {
		requirements[def.StepName] = def.RequiredResources
		if p, ok := e.processor(def.StepName); ok {
			estimated += p.EstimateExecutionTime(map[string]any{})
		}
	}

	return &ExecutionPlan{
		ProjectID:            projectID,
		WorkflowName:         workflowName,
		Phases:               phases,
		TotalPhases:          len(phases),
		EstimatedTotalTime:   estimated,
		ResourceRequirements: requirements,
	}, nil
}

// CheckResourceAvailability reports whether every resource required by any
// step of the workflow is currently available. Informational only; nothing
// is reserved.
func (e *Engine) CheckResourceAvailability(workflowName, projectID string) (bool, error) {
	plan, err := e.PlanExecution(workflowName, projectID)
	if err != nil {
		return false, err
	}

	for stepName, required := range plan.ResourceRequirements {
		for _, resource := range required {
			if !e.resources.IsResourceAvailable(resource) {
				logger.Warnw("resource not available",
					"resource", resource, "step_name", stepName, "workflow_name", workflowName)
				return false, nil
			}
		}
	}
	return true, nil
}

// ExecuteWorkflowDryRun plans the workflow, verifies resource availability
// and re-runs dependency-cycle detection, returning the plan without
// executing any step.
func (e *Engine) ExecuteWorkflowDryRun(workflowName, projectID string, _ map[string]any) (*ExecutionPlan, error) {
	plan, err := e.PlanExecution(workflowName, projectID)
	if err != nil {
		return nil, err
	}

	available, err := e.CheckResourceAvailability(workflowName, projectID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, errors.NewResourceLimitError(
			"workflow_resources", "all_required", "insufficient",
			map[string]any{"project_id": projectID, "workflow_name": workflowName},
		)
	}

	// Defensive re-check: registration already rejected cycles, but the
	// resolver is injectable and a misbehaving one must not reach execution.
	defs, err := e.workflowDefs(workflowName)
	if err != nil {
		return nil, err
	}
	dependencies := make(map[string][]string, len(defs))
	for _, def := range defs {
		dependencies[def.StepName] = def.Dependencies
	}
	if e.deadlock.DetectDeadlock(dependencies) {
		cycles := e.deadlock.FindDependencyCycles(dependencies)
		var first []string
		if len(cycles) > 0 {
			first = cycles[0]
		}
		return nil, errors.NewCircularDependencyError(first,
			map[string]any{"project_id": projectID, "workflow_name": workflowName})
	}

	logger.Infow("dry run successful", "workflow_name", workflowName, "phases", plan.TotalPhases)
	return plan, nil
}

// ExecuteWorkflow runs the workflow for the project, starting from the
// initial input. The returned result aggregates every step's outcome; the
// returned error is non-nil only for engine-level failures (planning,
// configuration), never for individual step failures.
func (e *Engine) ExecuteWorkflow(
	ctx context.Context,
	workflowName, projectID string,
	initialInput map[string]any,
	callback ProgressCallback,
) (*ExecutionResult, error) {
	logger.Infow("starting workflow execution", "workflow_name", workflowName, "project_id", projectID)
	start := time.Now()

	plan, err := e.ExecuteWorkflowDryRun(workflowName, projectID, initialInput)
	if err != nil {
		return nil, err
	}

	defs, err := e.workflowDefs(workflowName)
	if err != nil {
		return nil, err
	}
	defsByName := make(map[string]StepDefinition, len(defs))
	for _, def := range defs {
		defsByName[def.StepName] = def
	}

	state := NewExecutionState(projectID, workflowName, len(defs))

	e.mu.Lock()
	if _, running := e.activeExecutions[projectID]; running {
		e.mu.Unlock()
		return nil, errors.NewWorkflowEngineError(
			fmt.Sprintf("project already has an active execution: %s", projectID),
			"EXECUTION_IN_PROGRESS",
			errors.CategoryValidation,
		)
	}
	e.activeExecutions[projectID] = state
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.activeExecutions, projectID)
		e.mu.Unlock()
	}()

	stepResults := make(map[string]*StepResult, len(defs))
	currentInput := make(map[string]any, len(initialInput))
	maps.Copy(currentInput, initialInput)

	for phaseIndex, phaseSteps := range plan.Phases {
		if err := e.waitWhilePaused(ctx, state); err != nil {
			return e.abortedResult(state, stepResults, start, err), nil
		}
		if state.IsCancelled() {
			logger.Warnw("workflow cancelled", "project_id", projectID, "reason", state.CancellationReason())
			break
		}

		logger.Infow("executing phase",
			"workflow_name", workflowName,
			"phase", phaseIndex+1,
			"total_phases", plan.TotalPhases,
			"steps", phaseSteps)

		tasks, holders, err := e.buildPhaseTasks(ctx, state, defsByName, phaseSteps, currentInput)
		if err != nil {
			e.releasePhaseResources(holders)
			return e.abortedResult(state, stepResults, start, err), err
		}

		if callback != nil {
			callback(state)
		}

		results, _ := e.parallel.ExecuteStepsParallel(ctx, tasks)
		e.releasePhaseResources(holders)

		for i, result := range results {
			stepName := tasks[i].Context.StepName
			stepResults[stepName] = result

			if result.Status == StepStatusCompleted {
				state.CompleteStep(stepName, time.Duration(result.ExecutionTimeSeconds*float64(time.Second)))
				if mergeErr := e.mergeOutputs(currentInput, result.OutputData); mergeErr != nil {
					return e.abortedResult(state, stepResults, start, mergeErr), mergeErr
				}
			} else {
				msg := result.ErrorMessage
				if msg == "" {
					msg = "unknown error"
				}
				state.FailStep(stepName, msg)
			}
		}

		if callback != nil {
			callback(state)
		}

		if state.IsCancelled() {
			logger.Warnw("workflow cancelled", "project_id", projectID, "reason", state.CancellationReason())
			break
		}
	}

	state.MarkCompleted()

	_, completed, failed, _, _, skipped := state.Counters()
	finalStatus := StepStatusCompleted
	switch {
	case failed > 0:
		finalStatus = StepStatusFailed
	case state.IsCancelled():
		finalStatus = StepStatusCancelled
	}

	result := &ExecutionResult{
		ProjectID:      projectID,
		WorkflowName:   workflowName,
		Status:         finalStatus,
		TotalSteps:     len(defs),
		CompletedSteps: completed,
		FailedSteps:    failed,
		SkippedSteps:   skipped,
		ExecutionTime:  time.Since(start),
		StartedAt:      state.StartedAt(),
		CompletedAt:    state.CompletedAt(),
		StepResults:    stepResults,
	}

	logger.Infow("workflow execution finished",
		"workflow_name", workflowName,
		"project_id", projectID,
		"status", string(finalStatus),
		"duration_seconds", result.ExecutionTime.Seconds())
	return result, nil
}

// buildPhaseTasks resolves processors, generates execution contexts and
// acquires required resources for every step of a phase. It fails fast with
// a configuration error when a processor is missing. Steps whose resources
// cannot be acquired are marked failed instead of dispatched.
func (e *Engine) buildPhaseTasks(
	ctx context.Context,
	state *ExecutionState,
	defsByName map[string]StepDefinition,
	phaseSteps []string,
	input map[string]any,
) ([]StepTask, map[string][]string, error) {
	holders := make(map[string][]string)

	// Resource-deadlock preflight: with all-or-nothing acquisition the
	// wait-for graph stays acyclic, but the check guards against future
	// resource managers with incremental acquisition.
	requests := make(map[string]ResourceRequest, len(phaseSteps))
	anyResources := false
	for _, stepName := range phaseSteps {
		required := defsByName[stepName].RequiredResources
		if len(required) > 0 {
			anyResources = true
		}
		requests[stepName] = ResourceRequest{Secondary: required}
	}
	if anyResources && e.deadlock.DetectResourceDeadlock(requests) {
		return nil, holders, errors.NewResourceLimitError(
			"phase_resources", "deadlock_free_schedule", "wait_cycle_detected",
			map[string]any{"project_id": state.ProjectID(), "steps": phaseSteps},
		)
	}

	tasks := make([]StepTask, 0, len(phaseSteps))
	for _, stepName := range phaseSteps {
		processor, ok := e.processor(stepName)
		if !ok {
			return nil, holders, errors.NewWorkflowEngineError(
				fmt.Sprintf("step processor not found: %s", stepName),
				"PROCESSOR_NOT_FOUND",
				errors.CategoryConfiguration,
			)
		}

		def := defsByName[stepName]
		executionID := uuid.New().String()

		if len(def.RequiredResources) > 0 {
			acquireCtx, cancel := context.WithTimeout(ctx, e.defaultStepTimeout)
			acquired, err := e.resources.AcquireResources(acquireCtx, executionID, def.RequiredResources)
			cancel()
			if err != nil || !acquired {
				state.StartStep(stepName)
				state.FailStep(stepName, fmt.Sprintf("resources unavailable: %v", def.RequiredResources))
				continue
			}
			holders[executionID] = def.RequiredResources
		}

		ec := &StepExecutionContext{
			ProjectID:       state.ProjectID(),
			StepName:        stepName,
			ExecutionID:     executionID,
			StartedAt:       time.Now().UTC(),
			UserContext:     map[string]any{},
			EnvironmentVars: map[string]string{},
			ResourceLimits:  map[string]any{},
		}

		state.StartStep(stepName)
		tasks = append(tasks, StepTask{
			Processor: processor,
			Context:   ec,
			Input:     input,
			Timeout:   def.Timeout,
		})
	}

	return tasks, holders, nil
}

func (e *Engine) releasePhaseResources(holders map[string][]string) {
	for holder, names := range holders {
		e.resources.ReleaseResources(holder, names)
	}
}

// mergeOutputs merges a step's output into the accumulated input as a
// shallow union; later steps overwrite earlier ones on key conflict. With
// strict merging enabled a conflict is an error instead.
func (e *Engine) mergeOutputs(dst, src map[string]any) error {
	if e.strictMerge {
		for key := range src {
			if _, exists := dst[key]; exists {
				return errors.NewValidationError("output_data", key,
					"output key collides with existing input key under strict merge", nil)
			}
		}
	}
	maps.Copy(dst, src)
	return nil
}

// waitWhilePaused blocks between phases while the execution is paused.
// Cancellation (of the workflow or the caller's context) ends the wait.
func (e *Engine) waitWhilePaused(ctx context.Context, state *ExecutionState) error {
	for state.IsPaused() && !state.IsCancelled() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
	}
	return nil
}

// abortedResult assembles the failure result for an engine-level abort,
// preserving every step record produced so far.
func (e *Engine) abortedResult(
	state *ExecutionState,
	stepResults map[string]*StepResult,
	start time.Time,
	cause error,
) *ExecutionResult {
	_, completed, failed, _, _, skipped := state.Counters()

	logger.Errorw("workflow execution failed",
		"workflow_name", state.WorkflowName(), "project_id", state.ProjectID(), "error", cause)

	return &ExecutionResult{
		ProjectID:      state.ProjectID(),
		WorkflowName:   state.WorkflowName(),
		Status:         StepStatusFailed,
		TotalSteps:     state.totalSteps,
		CompletedSteps: completed,
		FailedSteps:    failed,
		SkippedSteps:   skipped,
		ExecutionTime:  time.Since(start),
		StartedAt:      state.StartedAt(),
		StepResults:    stepResults,
		ErrorSummary: map[string]string{
			"error": cause.Error(),
			"type":  fmt.Sprintf("%T", cause),
		},
	}
}

// CancelWorkflow requests cooperative cancellation of the project's active
// execution. The engine observes the flag between phases; in-flight steps
// are not interrupted. Reports whether an active execution was found.
func (e *Engine) CancelWorkflow(projectID, reason string) bool {
	e.mu.RLock()
	state, ok := e.activeExecutions[projectID]
	e.mu.RUnlock()

	if !ok {
		return false
	}
	if reason == "" {
		reason = "user cancellation"
	}
	state.Cancel(reason)
	return true
}

// PauseWorkflow pauses the project's active execution between phases.
func (e *Engine) PauseWorkflow(projectID string) bool {
	e.mu.RLock()
	state, ok := e.activeExecutions[projectID]
	e.mu.RUnlock()

	if !ok {
		return false
	}
	state.Pause()
	return true
}

// ResumeWorkflow resumes a paused execution.
func (e *Engine) ResumeWorkflow(projectID string) bool {
	e.mu.RLock()
	state, ok := e.activeExecutions[projectID]
	e.mu.RUnlock()

	if !ok {
		return false
	}
	state.Resume()
	return true
}

// GetExecutionStatus returns the live execution state for the project, or
// nil when no execution is active.
func (e *Engine) GetExecutionStatus(projectID string) *ExecutionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeExecutions[projectID]
}

// ListActiveExecutions returns the project ids with an active execution.
func (e *Engine) ListActiveExecutions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.activeExecutions))
	for id := range e.activeExecutions {
		ids = append(ids, id)
	}
	return ids
}
