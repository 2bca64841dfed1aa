package workflow

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukkuristudio/flowkit/pkg/errors"
)

func newTestEngine(opts ...EngineOption) *Engine {
	return NewEngine(NewDefaultResolver(), NewPoolResourceManager(nil), opts...)
}

// registerDiamond registers the diamond workflow with a processor per step
// that outputs {<name>: "done"}.
func registerDiamond(t *testing.T, e *Engine, workflowName string) {
	t.Helper()
	require.NoError(t, e.RegisterWorkflow(workflowName, diamondDefs()))
	for _, name := range []string{"a", "b", "c", "d"} {
		e.RegisterStepProcessor(name, &fakeProcessor{
			name: name,
			execute: func(_ context.Context, ec *StepExecutionContext, _ map[string]any) (*StepResult, error) {
				return &StepResult{
					Status:     StepStatusCompleted,
					OutputData: map[string]any{ec.StepName: "done"},
				}, nil
			},
		})
	}
}

func TestRegisterWorkflowRejectsInvalidDefinition(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	err := e.RegisterWorkflow("bad", []StepDefinition{{StepID: 0, StepName: "a"}})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRegisterWorkflowRejectsDuplicateStepName(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	err := e.RegisterWorkflow("bad", []StepDefinition{
		{StepID: 1, StepName: "a"},
		{StepID: 2, StepName: "a"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRegisterWorkflowRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	err := e.RegisterWorkflow("bad", []StepDefinition{
		{StepID: 1, StepName: "a", Dependencies: []string{"ghost"}},
	})
	require.Error(t, err)

	var depErr *errors.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"ghost"}, depErr.MissingDependencies)
}

func TestRegisterWorkflowRejectsCycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	err := e.RegisterWorkflow("bad", []StepDefinition{
		{StepID: 1, StepName: "a", Dependencies: []string{"b"}},
		{StepID: 2, StepName: "b", Dependencies: []string{"a"}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCircularDependency(err))
}

func TestPlanExecution(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	require.NoError(t, e.RegisterWorkflow("wf", diamondDefs()))
	for _, name := range []string{"a", "b", "c", "d"} {
		e.RegisterStepProcessor(name, &fakeProcessor{name: name, estimate: 10 * time.Second})
	}

	plan, err := e.PlanExecution("wf", "proj-1")
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, plan.Phases)
	assert.Equal(t, 3, plan.TotalPhases)
	assert.Equal(t, 40*time.Second, plan.EstimatedTotalTime)
	assert.Equal(t, 1, plan.StepPhase("b"))
	assert.Equal(t, -1, plan.StepPhase("ghost"))
}

func TestPlanExecutionUnknownWorkflow(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	_, err := e.PlanExecution("ghost", "proj-1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Contains(t, err.Error(), "WORKFLOW_NOT_FOUND")
}

func TestExecuteWorkflowDiamondSuccess(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	registerDiamond(t, e, "wf")

	var mu sync.Mutex
	var dInput map[string]any
	e.RegisterStepProcessor("d", &fakeProcessor{
		name: "d",
		execute: func(_ context.Context, _ *StepExecutionContext, input map[string]any) (*StepResult, error) {
			mu.Lock()
			dInput = maps.Clone(input)
			mu.Unlock()
			return &StepResult{
				Status:     StepStatusCompleted,
				OutputData: map[string]any{"d": "done"},
			}, nil
		},
	})

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1",
		map[string]any{"theme": "history"}, nil)
	require.NoError(t, err)

	assert.Equal(t, StepStatusCompleted, result.Status)
	assert.Equal(t, 4, result.CompletedSteps)
	assert.Equal(t, 0, result.FailedSteps)
	assert.Equal(t, 100.0, result.CompletionPercentage())
	assert.True(t, result.IsSuccessful())
	require.Contains(t, result.StepResults, "d")
	assert.Equal(t, "done", result.StepResults["d"].OutputData["d"])

	// The final step saw the initial input plus every upstream output.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "history", dInput["theme"])
	assert.Equal(t, "done", dInput["a"])
	assert.Equal(t, "done", dInput["b"])
	assert.Equal(t, "done", dInput["c"])
}

func TestExecuteWorkflowMiddleStepFailure(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	registerDiamond(t, e, "wf")
	e.RegisterStepProcessor("b", &fakeProcessor{
		name: "b",
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			return nil, fmt.Errorf("tts service unavailable")
		},
	})

	var mu sync.Mutex
	var dInput map[string]any
	e.RegisterStepProcessor("d", &fakeProcessor{
		name: "d",
		execute: func(_ context.Context, _ *StepExecutionContext, input map[string]any) (*StepResult, error) {
			mu.Lock()
			dInput = maps.Clone(input)
			mu.Unlock()
			return &StepResult{
				Status:     StepStatusCompleted,
				OutputData: map[string]any{"d": "done"},
			}, nil
		},
	})

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StepStatusFailed, result.Status)
	assert.Equal(t, 3, result.CompletedSteps)
	assert.Equal(t, 1, result.FailedSteps)
	assert.True(t, result.HasFailures())
	assert.Equal(t, StepStatusFailed, result.StepResults["b"].Status)
	assert.Contains(t, result.StepResults["b"].ErrorMessage, "tts service unavailable")

	// The failed step contributed no output; its phase peer still ran.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "done", dInput["a"])
	assert.Equal(t, "done", dInput["c"])
	assert.NotContains(t, dInput, "b")
}

func TestExecuteWorkflowCancellationBetweenPhases(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	registerDiamond(t, e, "wf")
	e.RegisterStepProcessor("a", &fakeProcessor{
		name: "a",
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			e.CancelWorkflow("proj-1", "user pressed stop")
			return &StepResult{
				Status:     StepStatusCompleted,
				OutputData: map[string]any{"a": "done"},
			}, nil
		},
	})

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StepStatusCancelled, result.Status)
	assert.Equal(t, 4, result.TotalSteps)
	assert.Equal(t, 1, result.CompletedSteps)
	assert.Equal(t, 0, result.FailedSteps)
	assert.Equal(t, 0, result.SkippedSteps)
	assert.Len(t, result.StepResults, 1)

	// The remaining three steps never ran.
	pending := result.TotalSteps - result.CompletedSteps - result.FailedSteps - result.SkippedSteps
	assert.Equal(t, 3, pending)
}

func TestExecuteWorkflowProcessorNotFound(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	require.NoError(t, e.RegisterWorkflow("wf", []StepDefinition{{StepID: 1, StepName: "orphan"}}))

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "PROCESSOR_NOT_FOUND")
	require.NotNil(t, result)
	assert.Equal(t, StepStatusFailed, result.Status)
	assert.Contains(t, result.ErrorSummary["error"], "orphan")
}

func TestExecuteWorkflowDryRunResourcesUnavailable(t *testing.T) {
	t.Parallel()

	resources := NewPoolResourceManager(nil)
	ok, err := resources.AcquireResources(context.Background(), "someone-else", []string{"gpu"})
	require.NoError(t, err)
	require.True(t, ok)

	e := NewEngine(NewDefaultResolver(), resources)
	require.NoError(t, e.RegisterWorkflow("wf", []StepDefinition{
		{StepID: 1, StepName: "render", RequiredResources: []string{"gpu"}},
	}))
	e.RegisterStepProcessor("render", &fakeProcessor{name: "render"})

	_, err = e.ExecuteWorkflowDryRun("wf", "proj-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsResourceLimit(err))
}

func TestExecuteWorkflowResourceContentionWithinPhase(t *testing.T) {
	t.Parallel()

	// Both steps want the same single-capacity resource; the loser is marked
	// failed after the acquisition budget runs out instead of deadlocking.
	e := NewEngine(NewDefaultResolver(), NewPoolResourceManager(nil),
		WithDefaultStepTimeout(150*time.Millisecond))
	require.NoError(t, e.RegisterWorkflow("wf", []StepDefinition{
		{StepID: 1, StepName: "left", RequiredResources: []string{"gpu"}},
		{StepID: 2, StepName: "right", RequiredResources: []string{"gpu"}},
	}))
	e.RegisterStepProcessor("left", &fakeProcessor{name: "left"})
	e.RegisterStepProcessor("right", &fakeProcessor{name: "right"})

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StepStatusFailed, result.Status)
	assert.Equal(t, 1, result.CompletedSteps)
	assert.Equal(t, 1, result.FailedSteps)
}

func TestExecuteWorkflowStrictMergeRejectsCollision(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithStrictMerge())
	require.NoError(t, e.RegisterWorkflow("wf", []StepDefinition{{StepID: 1, StepName: "a"}}))
	e.RegisterStepProcessor("a", &fakeProcessor{
		name: "a",
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			return &StepResult{
				Status:     StepStatusCompleted,
				OutputData: map[string]any{"theme": "overwritten"},
			}, nil
		},
	})

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1",
		map[string]any{"theme": "history"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	require.NotNil(t, result)
	assert.Equal(t, StepStatusFailed, result.Status)
}

func TestExecuteWorkflowProgressCallback(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	registerDiamond(t, e, "wf")

	var mu sync.Mutex
	var percentages []float64
	callback := func(state *ExecutionState) {
		mu.Lock()
		percentages = append(percentages, state.CompletionPercentage())
		mu.Unlock()
	}

	result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, callback)
	require.NoError(t, err)
	require.Equal(t, StepStatusCompleted, result.Status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, percentages)
	assert.Equal(t, 100.0, percentages[len(percentages)-1])
	for i := 1; i < len(percentages); i++ {
		assert.GreaterOrEqual(t, percentages[i], percentages[i-1])
	}
}

func TestExecuteWorkflowRejectsConcurrentExecution(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, e.RegisterWorkflow("wf", []StepDefinition{{StepID: 1, StepName: "slow"}}))
	e.RegisterStepProcessor("slow", &fakeProcessor{
		name: "slow",
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			close(started)
			<-release
			return &StepResult{Status: StepStatusCompleted, OutputData: map[string]any{}}, nil
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
	}()
	<-started

	assert.Equal(t, []string{"proj-1"}, e.ListActiveExecutions())
	require.NotNil(t, e.GetExecutionStatus("proj-1"))

	_, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXECUTION_IN_PROGRESS")

	close(release)
	<-done

	assert.Empty(t, e.ListActiveExecutions())
	assert.Nil(t, e.GetExecutionStatus("proj-1"))
}

func TestExecuteWorkflowPauseAndResume(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	registerDiamond(t, e, "wf")
	e.RegisterStepProcessor("a", &fakeProcessor{
		name: "a",
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			e.PauseWorkflow("proj-1")
			return &StepResult{
				Status:     StepStatusCompleted,
				OutputData: map[string]any{"a": "done"},
			}, nil
		},
	})

	type outcome struct {
		result *ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.ExecuteWorkflow(context.Background(), "wf", "proj-1", map[string]any{}, nil)
		done <- outcome{result, err}
	}()

	// The run parks between phase 1 and phase 2 until resumed.
	require.Eventually(t, func() bool {
		state := e.GetExecutionStatus("proj-1")
		if state == nil || !state.IsPaused() {
			return false
		}
		return state.StepStatus("a") == StepStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	state := e.GetExecutionStatus("proj-1")
	assert.Equal(t, StepStatusPending, state.StepStatus("b"))
	assert.Equal(t, StepStatusPending, state.StepStatus("d"))

	require.True(t, e.ResumeWorkflow("proj-1"))

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, StepStatusCompleted, out.result.Status)
		assert.Equal(t, 4, out.result.CompletedSteps)
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not finish after resume")
	}
}

func TestControlOperationsWithoutActiveExecution(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	assert.False(t, e.CancelWorkflow("ghost", "reason"))
	assert.False(t, e.PauseWorkflow("ghost"))
	assert.False(t, e.ResumeWorkflow("ghost"))
	assert.Nil(t, e.GetExecutionStatus("ghost"))
	assert.Empty(t, e.ListActiveExecutions())
}
