package workflow

import (
	"sync"
	"time"

	"github.com/yukkuristudio/flowkit/pkg/logger"
)

// defaultStepEstimate is the per-step estimate used for remaining-time
// projection before any duration has been observed.
const defaultStepEstimate = 60 * time.Second

// ExecutionState is the mutable per-project record of a running workflow.
// The engine is the single writer; reads may happen concurrently from
// progress-callback goroutines, so every access goes through the mutex.
type ExecutionState struct {
	mu sync.RWMutex

	projectID    string
	workflowName string

	totalSteps     int
	completedSteps int
	failedSteps    int
	runningSteps   int
	pendingSteps   int
	skippedSteps   int

	startedAt   time.Time
	completedAt time.Time

	cancelled          bool
	cancellationReason string
	paused             bool

	stepStatuses   map[string]StepStatus
	stepDurations  map[string]time.Duration
	stepStartTimes map[string]time.Time
}

// NewExecutionState creates the state record for a workflow run. All steps
// start pending.
func NewExecutionState(projectID, workflowName string, totalSteps int) *ExecutionState {
	return &ExecutionState{
		projectID:      projectID,
		workflowName:   workflowName,
		totalSteps:     totalSteps,
		pendingSteps:   totalSteps,
		startedAt:      time.Now().UTC(),
		stepStatuses:   make(map[string]StepStatus, totalSteps),
		stepDurations:  make(map[string]time.Duration, totalSteps),
		stepStartTimes: make(map[string]time.Time, totalSteps),
	}
}

// ProjectID returns the project this state belongs to.
func (s *ExecutionState) ProjectID() string {
	return s.projectID
}

// WorkflowName returns the workflow being executed.
func (s *ExecutionState) WorkflowName() string {
	return s.workflowName
}

// StartStep transitions a step pending -> running and records its start time.
func (s *ExecutionState) StartStep(stepName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stepStatuses[stepName] = StepStatusRunning
	s.stepStartTimes[stepName] = time.Now().UTC()
	s.runningSteps++
	s.pendingSteps--
}

// CompleteStep transitions a step to completed and records its duration.
// A negative duration means "compute from the recorded start time".
func (s *ExecutionState) CompleteStep(stepName string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if duration < 0 {
		if started, ok := s.stepStartTimes[stepName]; ok {
			duration = time.Since(started)
		} else {
			duration = 0
		}
	}

	s.adjustForTransition(stepName)
	s.stepStatuses[stepName] = StepStatusCompleted
	s.stepDurations[stepName] = duration
	s.completedSteps++
}

// FailStep transitions a step to failed.
func (s *ExecutionState) FailStep(stepName, errorMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adjustForTransition(stepName)
	s.stepStatuses[stepName] = StepStatusFailed
	s.failedSteps++

	logger.Warnw("step failed", "project_id", s.projectID, "step_name", stepName, "error", errorMessage)
}

// SkipStep transitions a pending step to skipped.
func (s *ExecutionState) SkipStep(stepName, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adjustForTransition(stepName)
	s.stepStatuses[stepName] = StepStatusSkipped
	s.skippedSteps++

	logger.Infow("step skipped", "project_id", s.projectID, "step_name", stepName, "reason", reason)
}

// adjustForTransition decrements the counter of the step's source state.
// Callers must hold the lock.
func (s *ExecutionState) adjustForTransition(stepName string) {
	switch s.stepStatuses[stepName] {
	case StepStatusRunning:
		s.runningSteps--
	default:
		s.pendingSteps--
	}
}

// Cancel sets the cancellation flag with a reason. The engine observes the
// flag between phases; in-flight steps are not interrupted.
func (s *ExecutionState) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.cancellationReason = reason
}

// IsCancelled reports whether cancellation was requested.
func (s *ExecutionState) IsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// CancellationReason returns the reason given to Cancel.
func (s *ExecutionState) CancellationReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancellationReason
}

// Pause sets the paused flag. Pausing suspends execution between phases only.
func (s *ExecutionState) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume clears the paused flag.
func (s *ExecutionState) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// IsPaused reports whether the workflow is paused.
func (s *ExecutionState) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// MarkCompleted stamps the completion time.
func (s *ExecutionState) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedAt = time.Now().UTC()
}

// Counters returns the current counter values:
// total, completed, failed, running, pending, skipped.
func (s *ExecutionState) Counters() (total, completed, failed, running, pending, skipped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSteps, s.completedSteps, s.failedSteps, s.runningSteps, s.pendingSteps, s.skippedSteps
}

// StepStatus returns the recorded status of a step, or pending if the step
// has not been touched yet.
func (s *ExecutionState) StepStatus(stepName string) StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status, ok := s.stepStatuses[stepName]; ok {
		return status
	}
	return StepStatusPending
}

// CompletionPercentage returns (completed + skipped) / total * 100, or 100
// when there are no steps.
func (s *ExecutionState) CompletionPercentage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completionPercentageLocked()
}

func (s *ExecutionState) completionPercentageLocked() float64 {
	if s.totalSteps == 0 {
		return 100
	}
	return float64(s.completedSteps+s.skippedSteps) / float64(s.totalSteps) * 100
}

// EstimateRemainingTime projects the remaining execution time from the
// average of observed step durations, defaulting to 60 seconds per step when
// no data exists yet.
func (s *ExecutionState) EstimateRemainingTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outstanding := s.pendingSteps + s.runningSteps
	if outstanding <= 0 {
		return 0
	}

	if len(s.stepDurations) == 0 {
		return time.Duration(outstanding) * defaultStepEstimate
	}

	var total time.Duration
	for _, d := range s.stepDurations {
		total += d
	}
	avg := total / time.Duration(len(s.stepDurations))
	return time.Duration(outstanding) * avg
}

// StatusSummary returns a JSON-friendly snapshot of the state.
func (s *ExecutionState) StatusSummary() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]string, len(s.stepStatuses))
	for name, status := range s.stepStatuses {
		statuses[name] = string(status)
	}
	durations := make(map[string]float64, len(s.stepDurations))
	for name, d := range s.stepDurations {
		durations[name] = d.Seconds()
	}

	summary := map[string]any{
		"project_id":            s.projectID,
		"workflow_name":         s.workflowName,
		"total_steps":           s.totalSteps,
		"completed_steps":       s.completedSteps,
		"failed_steps":          s.failedSteps,
		"running_steps":         s.runningSteps,
		"pending_steps":         s.pendingSteps,
		"skipped_steps":         s.skippedSteps,
		"completion_percentage": s.completionPercentageLocked(),
		"is_cancelled":          s.cancelled,
		"is_paused":             s.paused,
		"started_at":            s.startedAt.Format(time.RFC3339),
		"step_statuses":         statuses,
		"step_durations":        durations,
	}
	if s.cancelled {
		summary["cancellation_reason"] = s.cancellationReason
	}
	if !s.completedAt.IsZero() {
		summary["completed_at"] = s.completedAt.Format(time.RFC3339)
	}
	return summary
}

// StepDurations returns a copy of the observed step durations.
func (s *ExecutionState) StepDurations() map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Duration, len(s.stepDurations))
	for name, d := range s.stepDurations {
		out[name] = d
	}
	return out
}

// StepStatuses returns a copy of the recorded step statuses.
func (s *ExecutionState) StepStatuses() map[string]StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]StepStatus, len(s.stepStatuses))
	for name, status := range s.stepStatuses {
		out[name] = status
	}
	return out
}

// StartedAt returns when the workflow run started.
func (s *ExecutionState) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// CompletedAt returns when the workflow run completed, or the zero time while
// it is still running.
func (s *ExecutionState) CompletedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedAt
}
