package graph

import "context"

// Node is a processing unit in a workflow graph. It receives the accumulated
// state of type S, performs work, and returns a NodeResult carrying a state
// patch and a routing decision.
//
// Nodes must be idempotent over their patches: the engine guarantees
// at-least-once execution across crash/resume, and duplicate patches are
// deduplicated by task ID in the pending-write log, not by the node.
type Node[S any] interface {
	// Run executes the node. Long-running nodes (LLM calls, retrieval) must
	// honor ctx cancellation; the engine applies per-node timeouts through it.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one node execution.
type NodeResult[S any] struct {
	// Delta is the partial state patch, merged via the engine's reducer.
	Delta S

	// Route selects the next hop. Use Stop() for terminal nodes or
	// Goto(id) for explicit routing; leave zero to fall back to edges.
	Route Next

	// Err aborts the superstep. Errors classified retryable by the node's
	// retry policy are retried with backoff; anything else fails the thread.
	Err error
}

// Next is a routing decision.
type Next struct {
	// To names the next node. Mutually exclusive with Terminal.
	To string

	// Terminal stops the thread with status completed.
	Terminal bool
}

// Stop returns a terminal routing decision.
func Stop() Next { return Next{Terminal: true} }

// Goto routes to the named node.
func Goto(nodeID string) Next { return Next{To: nodeID} }

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError carries structured failure information out of a node.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *NodeError) Unwrap() error { return e.Cause }
