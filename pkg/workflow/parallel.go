package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	flowerrors "github.com/yukkuristudio/flowkit/pkg/errors"
	"github.com/yukkuristudio/flowkit/pkg/logger"
)

// StepTask bundles everything needed to run one step attempt.
type StepTask struct {
	// Processor is the registered step implementation.
	Processor StepProcessor

	// Context is the per-attempt execution context.
	Context *StepExecutionContext

	// Input is the step's input map. Never nil.
	Input map[string]any

	// Timeout bounds this attempt. Zero means the manager default.
	Timeout time.Duration
}

// ParallelExecutionManager is the bounded-concurrency executor for a single
// phase's steps. It holds at most maxConcurrentSteps attempts in flight and
// exerts backpressure on the rest.
type ParallelExecutionManager struct {
	maxConcurrentSteps int
	defaultTimeout     time.Duration
}

// NewParallelExecutionManager creates an executor with the given concurrency
// ceiling and default per-step timeout.
func NewParallelExecutionManager(maxConcurrentSteps int, defaultTimeout time.Duration) *ParallelExecutionManager {
	if maxConcurrentSteps < 1 {
		maxConcurrentSteps = 1
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &ParallelExecutionManager{
		maxConcurrentSteps: maxConcurrentSteps,
		defaultTimeout:     defaultTimeout,
	}
}

// ExecuteStepsParallel runs the tasks with bounded concurrency and returns
// their results in input order. A single task's failure does not cancel its
// peers; it surfaces, joined with any other failures, after all in-flight
// tasks settle. Every failed task still yields a failed StepResult at its
// input position.
func (m *ParallelExecutionManager) ExecuteStepsParallel(ctx context.Context, tasks []StepTask) ([]*StepResult, error) {
	return m.run(ctx, tasks, m.maxConcurrentSteps)
}

// ExecuteStepsSequential runs the tasks one at a time, in input order, for
// callers that need deterministic ordering.
func (m *ParallelExecutionManager) ExecuteStepsSequential(ctx context.Context, tasks []StepTask) ([]*StepResult, error) {
	return m.run(ctx, tasks, 1)
}

func (m *ParallelExecutionManager) run(ctx context.Context, tasks []StepTask, limit int) ([]*StepResult, error) {
	results := make([]*StepResult, len(tasks))
	taskErrs := make([]error, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, task := range tasks {
		g.Go(func() error {
			results[i], taskErrs[i] = m.executeSingle(gctx, task)
			// Always return nil: a step failure must not cancel its peers.
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(taskErrs...)
}

// executeSingle runs one attempt with its timeout, stamping the measured
// execution time into the result. Errors that are not already step-execution
// errors are wrapped into one, enriched with project, step and execution ids
// and the elapsed time.
func (m *ParallelExecutionManager) executeSingle(ctx context.Context, task StepTask) (*StepResult, error) {
	ec := task.Context
	logger.Infow("starting step execution", "step_name", ec.StepName, "execution_id", ec.ExecutionID)

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	type outcome struct {
		result *StepResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		var (
			result *StepResult
			err    error
		)
		if async, ok := task.Processor.(AsyncStepProcessor); ok {
			result, err = async.ExecuteAsync(stepCtx, ec, task.Input)
		} else {
			result, err = task.Processor.Execute(stepCtx, ec, task.Input)
		}
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			return m.failureResult(ec, elapsed, out.err)
		}
		result := out.result
		if result == nil {
			return m.failureResult(ec, elapsed, fmt.Errorf("step returned no result"))
		}
		result.ExecutionTimeSeconds = elapsed.Seconds()
		if result.Status == "" {
			result.Status = StepStatusCompleted
		}
		logger.Infow("step completed", "step_name", ec.StepName, "duration_seconds", result.ExecutionTimeSeconds)
		return result, nil

	case <-stepCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			// The enclosing workflow was cancelled, not the step budget.
			logger.Warnw("step cancelled", "step_name", ec.StepName, "elapsed_seconds", elapsed.Seconds())
			return &StepResult{
				Status:               StepStatusCancelled,
				OutputData:           map[string]any{},
				ErrorMessage:         "workflow cancelled",
				ExecutionTimeSeconds: elapsed.Seconds(),
			}, context.Cause(ctx)
		}

		// Budget exhausted. The attempt is abandoned: the goroutine may still
		// finish in the background but its result is discarded.
		timeoutErr := flowerrors.NewTimeoutError(
			fmt.Sprintf("step %s", ec.StepName),
			timeout.Seconds(),
			elapsed.Seconds(),
			flowerrors.ErrorContext(ec.ProjectID, ec.StepName, ec.ExecutionID, nil),
		)
		logger.Errorw("step timed out", "step_name", ec.StepName, "timeout_seconds", timeout.Seconds())
		return &StepResult{
			Status:               StepStatusFailed,
			OutputData:           map[string]any{},
			ErrorMessage:         timeoutErr.Error(),
			ExecutionTimeSeconds: elapsed.Seconds(),
		}, timeoutErr
	}
}

func (*ParallelExecutionManager) failureResult(ec *StepExecutionContext, elapsed time.Duration, err error) (*StepResult, error) {
	var stepErr *flowerrors.StepExecutionError
	if !errors.As(err, &stepErr) {
		stepErr = flowerrors.NewStepExecutionError(
			ec.StepName,
			fmt.Sprintf("unexpected error: %v", err),
			err,
			flowerrors.ErrorContext(ec.ProjectID, ec.StepName, ec.ExecutionID, map[string]any{
				"elapsed_seconds": elapsed.Seconds(),
			}),
		)
	}

	logger.Errorw("step failed", "step_name", ec.StepName, "error", err, "elapsed_seconds", elapsed.Seconds())
	return &StepResult{
		Status:               StepStatusFailed,
		OutputData:           map[string]any{},
		ErrorMessage:         stepErr.Error(),
		ExecutionTimeSeconds: elapsed.Seconds(),
	}, stepErr
}
