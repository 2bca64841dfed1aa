package workflow

import "time"

// ExecutionResult aggregates the outcome of a workflow run. It never drops a
// step record: every dispatched step appears in StepResults.
type ExecutionResult struct {
	// ProjectID is the project the workflow ran for.
	ProjectID string

	// WorkflowName is the executed workflow.
	WorkflowName string

	// Status is the final workflow status: completed, failed or cancelled.
	Status StepStatus

	// TotalSteps is the number of steps in the workflow definition.
	TotalSteps int

	// CompletedSteps counts steps that finished successfully.
	CompletedSteps int

	// FailedSteps counts steps that failed.
	FailedSteps int

	// SkippedSteps counts steps that were skipped.
	SkippedSteps int

	// ExecutionTime is the total wall-clock run time.
	ExecutionTime time.Duration

	// StartedAt is when the run started.
	StartedAt time.Time

	// CompletedAt is when the run finished; zero if the run aborted early.
	CompletedAt time.Time

	// StepResults holds the per-step results keyed by step name.
	StepResults map[string]*StepResult

	// ErrorSummary carries {error, type} when the run aborted with an
	// engine-level error rather than a step failure.
	ErrorSummary map[string]string
}

// IsSuccessful reports whether the run completed with no failures.
func (r *ExecutionResult) IsSuccessful() bool {
	return r.Status == StepStatusCompleted && r.FailedSteps == 0
}

// HasFailures reports whether any step failed.
func (r *ExecutionResult) HasFailures() bool {
	return r.FailedSteps > 0
}

// SuccessRate returns completed / total, or 0 when there are no steps.
func (r *ExecutionResult) SuccessRate() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.CompletedSteps) / float64(r.TotalSteps)
}

// CompletionPercentage returns (completed + skipped) / total * 100, or 100
// when there are no steps.
func (r *ExecutionResult) CompletionPercentage() float64 {
	if r.TotalSteps == 0 {
		return 100
	}
	return float64(r.CompletedSteps+r.SkippedSteps) / float64(r.TotalSteps) * 100
}

// ToMap returns a JSON-friendly representation of the result.
func (r *ExecutionResult) ToMap() map[string]any {
	stepResults := make(map[string]any, len(r.StepResults))
	for name, res := range r.StepResults {
		stepResults[name] = res.ToMap()
	}

	m := map[string]any{
		"project_id":             r.ProjectID,
		"workflow_name":          r.WorkflowName,
		"status":                 string(r.Status),
		"total_steps":            r.TotalSteps,
		"completed_steps":        r.CompletedSteps,
		"failed_steps":           r.FailedSteps,
		"skipped_steps":          r.SkippedSteps,
		"execution_time_seconds": r.ExecutionTime.Seconds(),
		"success_rate":           r.SuccessRate(),
		"completion_percentage":  r.CompletionPercentage(),
		"is_successful":          r.IsSuccessful(),
		"started_at":             r.StartedAt.Format(time.RFC3339),
		"step_results":           stepResults,
	}
	if !r.CompletedAt.IsZero() {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339)
	}
	if r.ErrorSummary != nil {
		m["error_summary"] = r.ErrorSummary
	}
	return m
}
