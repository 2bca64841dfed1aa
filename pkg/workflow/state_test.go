package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countersSum(s *ExecutionState) (int, int) {
	total, completed, failed, running, pending, skipped := s.Counters()
	return total, completed + failed + running + pending + skipped
}

func TestExecutionStateCounterInvariant(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "video_production", 4)

	total, sum := countersSum(s)
	assert.Equal(t, total, sum)

	s.StartStep("a")
	s.StartStep("b")
	total, sum = countersSum(s)
	assert.Equal(t, total, sum)

	s.CompleteStep("a", time.Second)
	s.FailStep("b", "network error")
	s.SkipStep("c", "optional step")
	total, sum = countersSum(s)
	assert.Equal(t, total, sum)

	_, completed, failed, running, pending, skipped := s.Counters()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, running)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, skipped)
}

func TestExecutionStateTransitions(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "wf", 2)

	assert.Equal(t, StepStatusPending, s.StepStatus("a"))

	s.StartStep("a")
	assert.Equal(t, StepStatusRunning, s.StepStatus("a"))

	s.CompleteStep("a", 2*time.Second)
	assert.Equal(t, StepStatusCompleted, s.StepStatus("a"))
	assert.Equal(t, 2*time.Second, s.StepDurations()["a"])
}

func TestCompleteStepComputesDurationFromStart(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "wf", 1)
	s.StartStep("a")
	time.Sleep(20 * time.Millisecond)
	s.CompleteStep("a", -1)

	assert.GreaterOrEqual(t, s.StepDurations()["a"], 20*time.Millisecond)
}

func TestCompletionPercentage(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "wf", 4)
	assert.Equal(t, 0.0, s.CompletionPercentage())

	s.StartStep("a")
	s.CompleteStep("a", time.Second)
	assert.Equal(t, 25.0, s.CompletionPercentage())

	s.SkipStep("b", "not needed")
	assert.Equal(t, 50.0, s.CompletionPercentage())

	// Failures do not count toward completion.
	s.StartStep("c")
	s.FailStep("c", "boom")
	assert.Equal(t, 50.0, s.CompletionPercentage())
}

func TestCompletionPercentageEmptyWorkflow(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "wf", 0)
	assert.Equal(t, 100.0, s.CompletionPercentage())
}

func TestEstimateRemainingTime(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "wf", 3)

	// No observations yet: 60 s default per outstanding step.
	assert.Equal(t, 3*defaultStepEstimate, s.EstimateRemainingTime())

	s.StartStep("a")
	s.CompleteStep("a", 10*time.Second)
	assert.Equal(t, 20*time.Second, s.EstimateRemainingTime())

	s.StartStep("b")
	s.CompleteStep("b", 20*time.Second)
	assert.Equal(t, 15*time.Second, s.EstimateRemainingTime())

	s.StartStep("c")
	s.CompleteStep("c", 5*time.Second)
	assert.Equal(t, time.Duration(0), s.EstimateRemainingTime())
}

func TestCancelAndPauseFlags(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "wf", 1)

	assert.False(t, s.IsCancelled())
	assert.False(t, s.IsPaused())

	s.Pause()
	assert.True(t, s.IsPaused())
	s.Resume()
	assert.False(t, s.IsPaused())

	s.Cancel("user requested stop")
	assert.True(t, s.IsCancelled())
	assert.Equal(t, "user requested stop", s.CancellationReason())
}

func TestStatusSummary(t *testing.T) {
	t.Parallel()

	s := NewExecutionState("proj-1", "video_production", 2)
	s.StartStep("script_generation")
	s.CompleteStep("script_generation", 3*time.Second)
	s.Cancel("shutting down")
	s.MarkCompleted()

	summary := s.StatusSummary()
	assert.Equal(t, "proj-1", summary["project_id"])
	assert.Equal(t, "video_production", summary["workflow_name"])
	assert.Equal(t, 2, summary["total_steps"])
	assert.Equal(t, 1, summary["completed_steps"])
	assert.Equal(t, 50.0, summary["completion_percentage"])
	assert.Equal(t, true, summary["is_cancelled"])
	assert.Equal(t, "shutting down", summary["cancellation_reason"])
	require.Contains(t, summary, "completed_at")

	statuses, ok := summary["step_statuses"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "completed", statuses["script_generation"])

	durations, ok := summary["step_durations"].(map[string]float64)
	require.True(t, ok)
	assert.Equal(t, 3.0, durations["script_generation"])
}
