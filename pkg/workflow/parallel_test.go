package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/yukkuristudio/flowkit/pkg/errors"
)

func newTask(name string, p StepProcessor) StepTask {
	return StepTask{
		Processor: p,
		Context: &StepExecutionContext{
			ProjectID:   "proj-1",
			StepName:    name,
			ExecutionID: "exec-" + name,
			StartedAt:   time.Now().UTC(),
		},
		Input: map[string]any{},
	}
}

func TestExecuteStepsParallelOrderedResults(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(3, time.Minute)

	tasks := []StepTask{
		newTask("one", &fakeProcessor{name: "one", delay: 30 * time.Millisecond}),
		newTask("two", &fakeProcessor{name: "two", delay: 5 * time.Millisecond}),
		newTask("three", &fakeProcessor{name: "three"}),
	}

	results, err := m.ExecuteStepsParallel(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "one", results[0].OutputData["step"])
	assert.Equal(t, "two", results[1].OutputData["step"])
	assert.Equal(t, "three", results[2].OutputData["step"])
	for _, r := range results {
		assert.Equal(t, StepStatusCompleted, r.Status)
		assert.Greater(t, r.ExecutionTimeSeconds, 0.0)
	}
}

func TestExecuteStepsParallelFailureDoesNotCancelPeers(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(3, time.Minute)

	failing := &fakeProcessor{
		name: "bad",
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			return nil, fmt.Errorf("boom")
		},
	}
	tasks := []StepTask{
		newTask("bad", failing),
		newTask("slow", &fakeProcessor{name: "slow", delay: 100 * time.Millisecond}),
	}

	results, err := m.ExecuteStepsParallel(context.Background(), tasks)
	require.Error(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, StepStatusFailed, results[0].Status)
	assert.Contains(t, results[0].ErrorMessage, "boom")
	assert.Equal(t, StepStatusCompleted, results[1].Status)
	assert.True(t, flowerrors.IsStepExecution(err))
}

func TestExecuteStepsParallelWrapsUnexpectedErrors(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(1, time.Minute)
	failing := &fakeProcessor{
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			return nil, fmt.Errorf("disk full")
		},
	}

	_, err := m.ExecuteStepsParallel(context.Background(), []StepTask{newTask("write", failing)})
	require.Error(t, err)

	var stepErr *flowerrors.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "write", stepErr.StepName)
	assert.Equal(t, "proj-1", stepErr.Context["project_id"])
	assert.Equal(t, "exec-write", stepErr.Context["execution_id"])
}

func TestExecuteStepsParallelTimeout(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(1, time.Minute)

	stuck := &fakeProcessor{
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			// Ignores cancellation on purpose; the attempt gets abandoned.
			time.Sleep(2 * time.Second)
			return &StepResult{Status: StepStatusCompleted}, nil
		},
	}
	task := newTask("stuck", stuck)
	task.Timeout = 50 * time.Millisecond

	results, err := m.ExecuteStepsParallel(context.Background(), []StepTask{task})
	require.Error(t, err)
	assert.True(t, flowerrors.IsTimeout(err))
	require.Len(t, results, 1)
	assert.Equal(t, StepStatusFailed, results[0].Status)
	assert.Contains(t, results[0].ErrorMessage, "OPERATION_TIMEOUT")
}

func TestExecuteStepsParallelPanicRecovery(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(1, time.Minute)
	panicking := &fakeProcessor{
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			panic("oops")
		},
	}

	results, err := m.ExecuteStepsParallel(context.Background(), []StepTask{newTask("boom", panicking)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	require.Len(t, results, 1)
	assert.Equal(t, StepStatusFailed, results[0].Status)
}

func TestExecuteStepsParallelNilResult(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(1, time.Minute)
	empty := &fakeProcessor{
		execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
			return nil, nil
		},
	}

	results, err := m.ExecuteStepsParallel(context.Background(), []StepTask{newTask("empty", empty)})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StepStatusFailed, results[0].Status)
}

func TestExecuteStepsParallelWorkflowCancellation(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	waiting := &fakeProcessor{
		execute: func(ctx context.Context, _ *StepExecutionContext, _ map[string]any) (*StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	results, err := m.ExecuteStepsParallel(ctx, []StepTask{newTask("waiting", waiting)})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StepStatusCancelled, results[0].Status)
}

func TestExecuteStepsSequentialRunsInOrder(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(3, time.Minute)

	var mu sync.Mutex
	var order []string
	record := func(name string) *fakeProcessor {
		return &fakeProcessor{
			name: name,
			execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return &StepResult{Status: StepStatusCompleted, OutputData: map[string]any{}}, nil
			},
		}
	}

	tasks := []StepTask{
		newTask("first", record("first")),
		newTask("second", record("second")),
		newTask("third", record("third")),
	}
	_, err := m.ExecuteStepsSequential(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestExecuteStepsParallelConcurrencyLimit(t *testing.T) {
	t.Parallel()

	m := NewParallelExecutionManager(2, time.Minute)

	var mu sync.Mutex
	inFlight, peak := 0, 0
	gated := func(name string) *fakeProcessor {
		return &fakeProcessor{
			name: name,
			execute: func(context.Context, *StepExecutionContext, map[string]any) (*StepResult, error) {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()

				time.Sleep(30 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return &StepResult{Status: StepStatusCompleted, OutputData: map[string]any{}}, nil
			},
		}
	}

	tasks := make([]StepTask, 0, 5)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("step-%d", i)
		tasks = append(tasks, newTask(name, gated(name)))
	}

	_, err := m.ExecuteStepsParallel(context.Background(), tasks)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}
