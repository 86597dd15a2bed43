// Package emit provides pluggable observability for workflow execution.
package emit

// Event is one observability record emitted during workflow execution.
type Event struct {
	// ThreadID identifies the workflow thread that emitted this event.
	ThreadID string

	// Superstep is the superstep number at emission time. Zero for
	// thread-level events emitted before the first superstep.
	Superstep int

	// NodeID identifies the node involved, empty for thread-level events.
	NodeID string

	// Msg names the event: thread_start, node_completed, node_retry,
	// thread_completed, thread_failed, thread_cancelled.
	Msg string

	// Meta holds additional structured fields such as duration_ms,
	// attempts, error, or next_node.
	Meta map[string]any
}
