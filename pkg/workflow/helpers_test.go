package workflow

import (
	"context"
	"time"
)

// fakeProcessor is a configurable step implementation for tests. The zero
// value completes immediately and returns {step: <name>}.
type fakeProcessor struct {
	name     string
	delay    time.Duration
	estimate time.Duration
	execute  func(ctx context.Context, ec *StepExecutionContext, input map[string]any) (*StepResult, error)
}

func (p *fakeProcessor) Execute(ctx context.Context, ec *StepExecutionContext, input map[string]any) (*StepResult, error) {
	if p.execute != nil {
		return p.execute(ctx, ec, input)
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &StepResult{
		Status:     StepStatusCompleted,
		OutputData: map[string]any{"step": p.name},
	}, nil
}

func (p *fakeProcessor) ValidateInput(map[string]any) error { return nil }

func (p *fakeProcessor) RequiredDependencies() []string { return nil }

func (p *fakeProcessor) CanRunConcurrentlyWith(string) bool { return true }

func (p *fakeProcessor) EstimateExecutionTime(map[string]any) time.Duration {
	return p.estimate
}

// diamondDefs returns the four-step diamond: b and c depend on a, d depends
// on both b and c.
func diamondDefs() []StepDefinition {
	return []StepDefinition{
		{StepID: 1, StepName: "a"},
		{StepID: 2, StepName: "b", Dependencies: []string{"a"}},
		{StepID: 3, StepName: "c", Dependencies: []string{"a"}},
		{StepID: 4, StepName: "d", Dependencies: []string{"b", "c"}},
	}
}
