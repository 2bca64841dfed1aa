package progress

import "time"

// DetailedReport is a point-in-time progress report for one project's
// workflow run.
type DetailedReport struct {
	ProjectID    string
	WorkflowName string
	GeneratedAt  time.Time

	TotalSteps     int
	CompletedSteps int
	FailedSteps    int
	RunningSteps   int
	PendingSteps   int
	SkippedSteps   int

	StartedAt              time.Time
	EstimatedCompletionAt  time.Time
	ElapsedTime            time.Duration
	EstimatedRemainingTime time.Duration

	StepStatuses  map[string]string
	StepDurations map[string]float64

	AverageStepDuration float64
	FastestStep         string
	SlowestStep         string

	ResourceUtilization map[string]any
}

// CompletionPercentage returns (completed + skipped) / total * 100, or 100
// when there are no steps.
func (r *DetailedReport) CompletionPercentage() float64 {
	if r.TotalSteps == 0 {
		return 100
	}
	return float64(r.CompletedSteps+r.SkippedSteps) / float64(r.TotalSteps) * 100
}

// SuccessRate returns completed / total, or 1 when there are no steps.
func (r *DetailedReport) SuccessRate() float64 {
	if r.TotalSteps == 0 {
		return 1
	}
	return float64(r.CompletedSteps) / float64(r.TotalSteps)
}

// ToMap returns a JSON-friendly representation of the report.
func (r *DetailedReport) ToMap() map[string]any {
	timing := map[string]any{
		"started_at":               r.StartedAt.Format(time.RFC3339),
		"elapsed_time":             r.ElapsedTime.Seconds(),
		"estimated_remaining_time": r.EstimatedRemainingTime.Seconds(),
	}
	if !r.EstimatedCompletionAt.IsZero() {
		timing["estimated_completion_at"] = r.EstimatedCompletionAt.Format(time.RFC3339)
	}

	return map[string]any{
		"project_id":    r.ProjectID,
		"workflow_name": r.WorkflowName,
		"generated_at":  r.GeneratedAt.Format(time.RFC3339),
		"summary": map[string]any{
			"total_steps":           r.TotalSteps,
			"completed_steps":       r.CompletedSteps,
			"failed_steps":          r.FailedSteps,
			"running_steps":         r.RunningSteps,
			"pending_steps":         r.PendingSteps,
			"skipped_steps":         r.SkippedSteps,
			"completion_percentage": r.CompletionPercentage(),
			"success_rate":          r.SuccessRate(),
		},
		"timing": timing,
		"step_details": map[string]any{
			"statuses":  r.StepStatuses,
			"durations": r.StepDurations,
		},
		"performance": map[string]any{
			"average_step_duration": r.AverageStepDuration,
			"fastest_step":          r.FastestStep,
			"slowest_step":          r.SlowestStep,
		},
		"resources": r.ResourceUtilization,
	}
}
