package progress

import (
	"sync"
	"time"

	"github.com/yukkuristudio/flowkit/pkg/logger"
	"github.com/yukkuristudio/flowkit/pkg/workflow"
)

const (
	// DefaultMaxEventHistory bounds the event history ring.
	DefaultMaxEventHistory = 1000

	// DefaultCleanupInterval is how often inactive subscribers are pruned.
	DefaultCleanupInterval = 300 * time.Second
)

// Monitor is the in-process pub/sub hub for progress events. It fans
// published events out to subscribers, keeps a bounded FIFO history, tracks
// active workflow states for reporting, and prunes subscribers that fail or
// go inactive.
type Monitor struct {
	mu sync.Mutex

	subscribers     map[string]Subscriber
	history         []Event
	maxEventHistory int

	activeWorkflows map[string]*workflow.ExecutionState
	resourceStats   map[string]map[string]any

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMaxEventHistory sets the history ring size. Zero disables history.
func WithMaxEventHistory(n int) MonitorOption {
	return func(m *Monitor) {
		if n >= 0 {
			m.maxEventHistory = n
		}
	}
}

// WithCleanupInterval sets the inactive-subscriber prune interval.
func WithCleanupInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.cleanupInterval = d
		}
	}
}

// NewMonitor creates a progress monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		subscribers:     make(map[string]Subscriber),
		maxEventHistory: DefaultMaxEventHistory,
		activeWorkflows: make(map[string]*workflow.ExecutionState),
		resourceStats:   make(map[string]map[string]any),
		cleanupInterval: DefaultCleanupInterval,
		lastCleanup:     time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a subscriber. Re-subscribing with the same id replaces
// the previous registration.
func (m *Monitor) Subscribe(sub Subscriber) {
	m.mu.Lock()
	m.subscribers[sub.SubscriberID()] = sub
	m.mu.Unlock()

	logger.Infow("progress subscriber added", "subscriber_id", sub.SubscriberID())
}

// Unsubscribe removes a subscriber by id.
func (m *Monitor) Unsubscribe(subscriberID string) {
	m.mu.Lock()
	_, existed := m.subscribers[subscriberID]
	delete(m.subscribers, subscriberID)
	m.mu.Unlock()

	if existed {
		logger.Infow("progress subscriber removed", "subscriber_id", subscriberID)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (m *Monitor) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// PublishEvent records the event in history and delivers it to every active
// subscriber whose project filter admits it. Subscribers that error or
// report inactive are unsubscribed.
func (m *Monitor) PublishEvent(event Event) {
	m.mu.Lock()
	m.appendHistoryLocked(event)
	m.updateStatisticsLocked(event)

	targets := make([]Subscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	var failed []string
	for _, sub := range targets {
		if filter := sub.ProjectFilter(); filter != nil {
			if _, ok := filter[event.ProjectID]; !ok {
				continue
			}
		}
		if !sub.IsActive() {
			failed = append(failed, sub.SubscriberID())
			continue
		}
		if err := sub.OnEvent(event); err != nil {
			logger.Errorw("event delivery failed",
				"subscriber_id", sub.SubscriberID(), "event_type", string(event.Type), "error", err)
			failed = append(failed, sub.SubscriberID())
		}
	}

	for _, id := range failed {
		m.Unsubscribe(id)
	}

	m.cleanupIfNeeded()
}

func (m *Monitor) appendHistoryLocked(event Event) {
	if m.maxEventHistory == 0 {
		return
	}
	m.history = append(m.history, event)
	if len(m.history) > m.maxEventHistory {
		m.history = m.history[len(m.history)-m.maxEventHistory:]
	}
}

func (m *Monitor) updateStatisticsLocked(event Event) {
	if event.Type != EventResourceUpdate {
		return
	}
	stats := m.resourceStats[event.ProjectID]
	if stats == nil {
		stats = make(map[string]any, len(event.Data))
		m.resourceStats[event.ProjectID] = stats
	}
	for k, v := range event.Data {
		stats[k] = v
	}
}

// EmitWorkflowEvent builds and publishes an event in one call.
func (m *Monitor) EmitWorkflowEvent(eventType EventType, projectID, workflowName, stepName string, data map[string]any) {
	m.PublishEvent(NewEvent(eventType, projectID, workflowName, stepName, data))
}

// RegisterWorkflow attaches a workflow execution state for report generation.
func (m *Monitor) RegisterWorkflow(projectID string, state *workflow.ExecutionState) {
	m.mu.Lock()
	m.activeWorkflows[projectID] = state
	m.mu.Unlock()

	logger.Infow("workflow registered for monitoring", "project_id", projectID)
}

// UnregisterWorkflow detaches a workflow execution state.
func (m *Monitor) UnregisterWorkflow(projectID string) {
	m.mu.Lock()
	delete(m.activeWorkflows, projectID)
	delete(m.resourceStats, projectID)
	m.mu.Unlock()
}

// CreateProgressCallback returns an engine progress callback that republishes
// each state snapshot as a progress_update event.
func (m *Monitor) CreateProgressCallback(projectID, workflowName string) workflow.ProgressCallback {
	return func(state *workflow.ExecutionState) {
		_, completed, failed, running, pending, _ := state.Counters()
		m.EmitWorkflowEvent(EventProgressUpdate, projectID, workflowName, "", map[string]any{
			"completion_percentage":    state.CompletionPercentage(),
			"completed_steps":          completed,
			"failed_steps":             failed,
			"running_steps":            running,
			"pending_steps":            pending,
			"estimated_remaining_time": state.EstimateRemainingTime().Seconds(),
			"status_summary":           state.StatusSummary(),
		})
	}
}

// GenerateDetailedReport builds a report for the project's registered
// workflow, or nil when no workflow is registered.
func (m *Monitor) GenerateDetailedReport(projectID string) *DetailedReport {
	m.mu.Lock()
	state := m.activeWorkflows[projectID]
	resources := m.resourceStats[projectID]
	m.mu.Unlock()

	if state == nil {
		return nil
	}

	total, completed, failed, running, pending, skipped := state.Counters()
	now := time.Now().UTC()

	statuses := make(map[string]string)
	for name, status := range state.StepStatuses() {
		statuses[name] = string(status)
	}
	durations := make(map[string]float64)
	for name, d := range state.StepDurations() {
		durations[name] = d.Seconds()
	}

	report := &DetailedReport{
		ProjectID:              projectID,
		WorkflowName:           state.WorkflowName(),
		GeneratedAt:            now,
		TotalSteps:             total,
		CompletedSteps:         completed,
		FailedSteps:            failed,
		RunningSteps:           running,
		PendingSteps:           pending,
		SkippedSteps:           skipped,
		StartedAt:              state.StartedAt(),
		ElapsedTime:            now.Sub(state.StartedAt()),
		EstimatedRemainingTime: state.EstimateRemainingTime(),
		StepStatuses:           statuses,
		StepDurations:          durations,
		ResourceUtilization:    resources,
	}

	if report.EstimatedRemainingTime > 0 {
		report.EstimatedCompletionAt = now.Add(report.EstimatedRemainingTime)
	}

	if len(durations) > 0 {
		var sum float64
		minName, maxName := "", ""
		minDur, maxDur := 0.0, 0.0
		for name, d := range durations {
			sum += d
			if minName == "" || d < minDur {
				minName, minDur = name, d
			}
			if maxName == "" || d > maxDur {
				maxName, maxDur = name, d
			}
		}
		report.AverageStepDuration = sum / float64(len(durations))
		report.FastestStep = minName
		report.SlowestStep = maxName
	}

	return report
}

// EventHistory returns history entries, oldest first, optionally filtered by
// project id and event types. limit > 0 keeps only the newest limit entries
// after filtering.
func (m *Monitor) EventHistory(projectID string, types []EventType, limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	typeSet := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	var filtered []Event
	for _, event := range m.history {
		if projectID != "" && event.ProjectID != projectID {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[event.Type]; !ok {
				continue
			}
		}
		filtered = append(filtered, event)
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// ActiveWorkflows returns a summary of every registered workflow state.
func (m *Monitor) ActiveWorkflows() []map[string]any {
	m.mu.Lock()
	states := make(map[string]*workflow.ExecutionState, len(m.activeWorkflows))
	for id, state := range m.activeWorkflows {
		states[id] = state
	}
	m.mu.Unlock()

	out := make([]map[string]any, 0, len(states))
	for projectID, state := range states {
		_, completed, failed, running, pending, _ := state.Counters()
		out = append(out, map[string]any{
			"project_id":            projectID,
			"workflow_name":         state.WorkflowName(),
			"completion_percentage": state.CompletionPercentage(),
			"status": map[string]any{
				"completed": completed,
				"running":   running,
				"pending":   pending,
				"failed":    failed,
			},
			"started_at":   state.StartedAt().Format(time.RFC3339),
			"is_cancelled": state.IsCancelled(),
			"is_paused":    state.IsPaused(),
		})
	}
	return out
}

// cleanupIfNeeded prunes inactive subscribers when the cleanup interval has
// elapsed since the last pass.
func (m *Monitor) cleanupIfNeeded() {
	m.mu.Lock()
	due := time.Since(m.lastCleanup) > m.cleanupInterval
	if due {
		m.lastCleanup = time.Now()
	}
	m.mu.Unlock()

	if due {
		m.Cleanup()
	}
}

// Cleanup removes every subscriber whose IsActive reports false.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	var inactive []string
	for id, sub := range m.subscribers {
		if !sub.IsActive() {
			inactive = append(inactive, id)
		}
	}
	m.mu.Unlock()

	for _, id := range inactive {
		m.Unsubscribe(id)
	}
	if len(inactive) > 0 {
		logger.Debugw("pruned inactive subscribers", "count", len(inactive))
	}
}
