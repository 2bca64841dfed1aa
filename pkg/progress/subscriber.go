package progress

import (
	"fmt"
	"sync"
)

// Subscriber receives published events. Implementations bind the transport:
// an in-memory channel, a WebSocket session, an SSE stream.
type Subscriber interface {
	// SubscriberID identifies the subscriber for registration and pruning.
	SubscriberID() string

	// OnEvent delivers one event. A returned error marks the subscriber for
	// removal.
	OnEvent(event Event) error

	// IsActive reports whether the subscriber can still receive events.
	// Inactive subscribers are pruned.
	IsActive() bool

	// ProjectFilter returns the set of project ids the subscriber wants, or
	// nil for all projects.
	ProjectFilter() map[string]struct{}
}

// ChannelSubscriber delivers events over a buffered channel. When the buffer
// is full the event is dropped rather than blocking the publish path; a
// closed subscriber reports inactive and gets pruned on the next publish.
type ChannelSubscriber struct {
	id     string
	filter map[string]struct{}

	mu     sync.Mutex
	events chan Event
	closed bool
}

var _ Subscriber = (*ChannelSubscriber)(nil)

// NewChannelSubscriber creates a channel subscriber with the given buffer
// size. projectIDs restricts delivery to the listed projects; empty means all.
func NewChannelSubscriber(id string, bufferSize int, projectIDs ...string) *ChannelSubscriber {
	if bufferSize < 1 {
		bufferSize = 64
	}
	var filter map[string]struct{}
	if len(projectIDs) > 0 {
		filter = make(map[string]struct{}, len(projectIDs))
		for _, pid := range projectIDs {
			filter[pid] = struct{}{}
		}
	}
	return &ChannelSubscriber{
		id:     id,
		filter: filter,
		events: make(chan Event, bufferSize),
	}
}

// SubscriberID returns the subscriber id.
func (s *ChannelSubscriber) SubscriberID() string { return s.id }

// OnEvent enqueues the event, dropping it when the buffer is full.
func (s *ChannelSubscriber) OnEvent(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("subscriber %s is closed", s.id)
	}
	select {
	case s.events <- event:
	default:
		// Full buffer means a slow consumer; dropping keeps publish fast.
	}
	return nil
}

// IsActive reports whether the subscriber is still open.
func (s *ChannelSubscriber) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// ProjectFilter returns the configured project filter.
func (s *ChannelSubscriber) ProjectFilter() map[string]struct{} { return s.filter }

// Events returns the receive side of the subscriber's channel.
func (s *ChannelSubscriber) Events() <-chan Event { return s.events }

// Close marks the subscriber inactive and closes the event channel.
func (s *ChannelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
