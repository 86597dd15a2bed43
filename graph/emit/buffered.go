package emit

import "sync"

// BufferedEmitter stores events in memory, keyed by thread ID. Intended for
// tests and debugging; it grows without bound, so do not wire it into
// long-running deployments.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects a subset of a thread's events. Zero-value fields
// match everything; set fields combine with AND.
type HistoryFilter struct {
	NodeID       string
	Msg          string
	MinSuperstep *int
	MaxSuperstep *int
}

// NewBufferedEmitter creates an empty in-memory emitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// History returns a copy of all events for a thread in emission order.
func (b *BufferedEmitter) History(threadID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[threadID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the thread's events matching the filter, in
// emission order.
func (b *BufferedEmitter) HistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Event{}
	for _, event := range b.events[threadID] {
		if matchesFilter(event, filter) {
			out = append(out, event)
		}
	}
	return out
}

// Clear drops events for one thread, or for all threads when threadID is
// empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinSuperstep != nil && event.Superstep < *filter.MinSuperstep {
		return false
	}
	if filter.MaxSuperstep != nil && event.Superstep > *filter.MaxSuperstep {
		return false
	}
	return true
}
