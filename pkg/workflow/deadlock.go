package workflow

import "sort"

// ResourceRequest describes a step's resource posture for wait-for analysis:
// Primary resources are held, Secondary resources are awaited.
type ResourceRequest struct {
	Primary   []string
	Secondary []string
}

// DeadlockDetector detects dependency cycles and wait-for cycles on resource
// requests.
type DeadlockDetector struct{}

// NewDeadlockDetector creates a deadlock detector.
func NewDeadlockDetector() *DeadlockDetector {
	return &DeadlockDetector{}
}

// DetectDeadlock reports whether the dependency map contains a cycle.
func (d *DeadlockDetector) DetectDeadlock(dependencies map[string][]string) bool {
	return len(d.FindDependencyCycles(dependencies)) > 0
}

// FindDependencyCycles enumerates dependency cycles using DFS with a
// recursion stack, recording each cycle as the slice of the DFS path from the
// re-entered node onward.
func (*DeadlockDetector) FindDependencyCycles(dependencies map[string][]string) [][]string {
	return findCycles(dependencies, nil)
}

// DetectResourceDeadlock builds the wait-for graph from the given resource
// requests and reports whether it contains a cycle. An edge A -> B exists
// when B holds a resource A awaits and A holds a resource B awaits, i.e. the
// two steps block each other.
func (d *DeadlockDetector) DetectResourceDeadlock(requests map[string]ResourceRequest) bool {
	waitFor := make(map[string][]string, len(requests))

	names := make([]string, 0, len(requests))
	for name := range requests {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, step := range names {
		req := requests[step]
		for _, other := range names {
			if step == other {
				continue
			}
			otherReq := requests[other]
			if intersects(req.Secondary, otherReq.Primary) && intersects(req.Primary, otherReq.Secondary) {
				waitFor[step] = append(waitFor[step], other)
			}
		}
	}

	return len(d.FindDependencyCycles(waitFor)) > 0
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
