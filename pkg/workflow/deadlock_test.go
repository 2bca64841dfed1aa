package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDeadlockAcyclic(t *testing.T) {
	t.Parallel()

	d := NewDeadlockDetector()
	assert.False(t, d.DetectDeadlock(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}))
}

func TestDetectDeadlockCycle(t *testing.T) {
	t.Parallel()

	d := NewDeadlockDetector()
	assert.True(t, d.DetectDeadlock(map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}))
}

func TestFindDependencyCycles(t *testing.T) {
	t.Parallel()

	d := NewDeadlockDetector()
	cycles := d.FindDependencyCycles(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"x": {"y"},
		"y": nil,
	})
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, cycles[0])
}

func TestDetectResourceDeadlockMutualWait(t *testing.T) {
	t.Parallel()

	// Each step holds what the other awaits, so both block forever.
	d := NewDeadlockDetector()
	deadlocked := d.DetectResourceDeadlock(map[string]ResourceRequest{
		"tts":      {Primary: []string{"gpu"}, Secondary: []string{"disk"}},
		"encoding": {Primary: []string{"disk"}, Secondary: []string{"gpu"}},
	})
	assert.True(t, deadlocked)
}

func TestDetectResourceDeadlockNoConflict(t *testing.T) {
	t.Parallel()

	d := NewDeadlockDetector()
	deadlocked := d.DetectResourceDeadlock(map[string]ResourceRequest{
		"tts":      {Primary: []string{"gpu"}, Secondary: []string{"disk"}},
		"encoding": {Primary: []string{"network"}, Secondary: []string{"gpu"}},
	})
	assert.False(t, deadlocked)
}

func TestDetectResourceDeadlockOneSidedWait(t *testing.T) {
	t.Parallel()

	// A one-directional wait is contention, not deadlock.
	d := NewDeadlockDetector()
	deadlocked := d.DetectResourceDeadlock(map[string]ResourceRequest{
		"tts":      {Primary: nil, Secondary: []string{"gpu"}},
		"encoding": {Primary: []string{"gpu"}, Secondary: nil},
	})
	assert.False(t, deadlocked)
}
