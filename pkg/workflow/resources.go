package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yukkuristudio/flowkit/pkg/logger"
)

// acquireRetryInterval is the initial backoff interval when a resource
// acquisition has to wait for capacity.
const acquireRetryInterval = 50 * time.Millisecond

// PoolResourceManager arbitrates named logical resources as counted pools.
// Every resource defaults to capacity 1 (mutual exclusion) unless configured
// otherwise. Holders are tracked per acquisition so releases are idempotent
// and scoped to the holder.
type PoolResourceManager struct {
	mu         sync.Mutex
	capacities map[string]int
	allocated  map[string]int
	// holders tracks, per holder id, how many units of each resource it holds.
	holders map[string]map[string]int
}

// NewPoolResourceManager creates a resource manager with the given pool
// capacities. Resources not listed get capacity 1 on first use.
func NewPoolResourceManager(capacities map[string]int) *PoolResourceManager {
	caps := make(map[string]int, len(capacities))
	for name, c := range capacities {
		if c < 1 {
			c = 1
		}
		caps[name] = c
	}
	return &PoolResourceManager{
		capacities: caps,
		allocated:  make(map[string]int),
		holders:    make(map[string]map[string]int),
	}
}

var _ ResourceManager = (*PoolResourceManager)(nil)

func (m *PoolResourceManager) capacityOf(name string) int {
	c, ok := m.capacities[name]
	if !ok {
		m.capacities[name] = 1
		return 1
	}
	return c
}

// tryAcquireAll attempts an all-or-nothing acquisition under the lock.
func (m *PoolResourceManager) tryAcquireAll(holder string, names []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		if m.allocated[name] >= m.capacityOf(name) {
			return false
		}
	}

	held := m.holders[holder]
	if held == nil {
		held = make(map[string]int, len(names))
		m.holders[holder] = held
	}
	for _, name := range names {
		m.allocated[name]++
		held[name]++
	}
	return true
}

// AcquireResources acquires all named resources for the holder, or none.
// When capacity is unavailable it retries with exponential backoff until the
// context is cancelled or its deadline expires, in which case it reports
// false without error.
func (m *PoolResourceManager) AcquireResources(ctx context.Context, holder string, names []string) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = acquireRetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if m.tryAcquireAll(holder, names) {
			return struct{}{}, nil
		}
		return struct{}{}, errResourcesBusy
	}, backoff.WithBackOff(bo))
	if err != nil {
		logger.Debugw("resource acquisition gave up", "holder", holder, "resources", names, "error", err)
		return false, nil
	}
	return true, nil
}

// ReleaseResources releases the holder's claim on the named resources.
// Units the holder does not hold are ignored, making release idempotent.
func (m *PoolResourceManager) ReleaseResources(holder string, names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.holders[holder]
	if held == nil {
		return
	}
	for _, name := range names {
		if held[name] == 0 {
			continue
		}
		held[name]--
		if held[name] == 0 {
			delete(held, name)
		}
		if m.allocated[name] > 0 {
			m.allocated[name]--
		}
	}
	if len(held) == 0 {
		delete(m.holders, holder)
	}
}

// ReleaseAll releases everything the holder currently holds.
func (m *PoolResourceManager) ReleaseAll(holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, units := range m.holders[holder] {
		if m.allocated[name] >= units {
			m.allocated[name] -= units
		} else {
			m.allocated[name] = 0
		}
	}
	delete(m.holders, holder)
}

// IsResourceAvailable reports whether the named resource has spare capacity.
func (m *PoolResourceManager) IsResourceAvailable(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated[name] < m.capacityOf(name)
}

// ResourceUsage returns a snapshot of capacities, allocations and holders.
func (m *PoolResourceManager) ResourceUsage() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	pools := make(map[string]any, len(m.capacities))
	for name, capacity := range m.capacities {
		allocated := m.allocated[name]
		pools[name] = map[string]any{
			"capacity":         capacity,
			"allocated":        allocated,
			"available":        capacity - allocated,
			"usage_percentage": float64(allocated) / float64(capacity) * 100,
		}
	}

	holders := make(map[string]any, len(m.holders))
	for holder, held := range m.holders {
		snapshot := make(map[string]int, len(held))
		for name, units := range held {
			snapshot[name] = units
		}
		holders[holder] = snapshot
	}

	return map[string]any{
		"pools":              pools,
		"active_allocations": holders,
	}
}

// errResourcesBusy signals a retryable acquisition failure to the backoff loop.
var errResourcesBusy = backoffError("resources busy")

type backoffError string

func (e backoffError) Error() string { return string(e) }
