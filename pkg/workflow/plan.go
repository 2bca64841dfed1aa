package workflow

import "time"

// ExecutionPlan is the immutable result of planning a workflow run.
type ExecutionPlan struct {
	// ProjectID is the project the plan was made for.
	ProjectID string

	// WorkflowName is the planned workflow.
	WorkflowName string

	// Phases are the ordered execution phases; each inner slice holds the
	// names of concurrently-runnable steps.
	Phases [][]string

	// TotalPhases is len(Phases).
	TotalPhases int

	// EstimatedTotalTime sums the processors' execution time estimates.
	// Steps without a registered processor contribute zero.
	EstimatedTotalTime time.Duration

	// ResourceRequirements maps step names to their required resources.
	ResourceRequirements map[string][]string
}

// PhaseSteps returns the step names of the given phase, or nil when the
// index is out of range.
func (p *ExecutionPlan) PhaseSteps(phaseIndex int) []string {
	if phaseIndex < 0 || phaseIndex >= len(p.Phases) {
		return nil
	}
	return p.Phases[phaseIndex]
}

// StepPhase returns the phase index the named step belongs to, or -1 when
// the step is not in the plan.
func (p *ExecutionPlan) StepPhase(stepName string) int {
	for i, phase := range p.Phases {
		for _, name := range phase {
			if name == stepName {
				return i
			}
		}
	}
	return -1
}
