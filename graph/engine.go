package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/aura-go/graph/emit"
	"github.com/dshills/aura-go/graph/store"
)

// Reducer merges a node's partial state patch into the accumulated state.
// Reducers must be deterministic: the same (prev, delta) always yields the
// same result, or crash recovery may diverge from the original execution.
type Reducer[S any] func(prev, delta S) S

// ChannelFunc splits state into named channels for checkpoint blob storage.
// When nil, the engine stores the whole state under a single "state" channel.
type ChannelFunc[S any] func(state S) map[string]any

// Options configures engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps bounds supersteps per thread. 0 means unlimited.
	MaxSteps int

	// DefaultNodeTimeout bounds each node attempt unless overridden by a
	// NodePolicy. 0 means unlimited.
	DefaultNodeTimeout time.Duration

	// DefaultRetryPolicy applies to nodes without an explicit policy.
	// Nil means failures are terminal on the first attempt.
	DefaultRetryPolicy *RetryPolicy

	// Namespace partitions checkpoints within a thread. Defaults to "".
	Namespace string

	// Metrics receives execution observations when non-nil.
	Metrics *PrometheusMetrics
}

// Engine executes a directed graph of nodes as a checkpointed state machine.
//
// Execution proceeds in supersteps. Each superstep materializes state from
// the latest checkpoint, runs the scheduled node (with timeout and retry),
// records the patch as a pending write, folds it through the reducer, and
// atomically commits a new checkpoint whose parent is the prior checkpoint
// for the same (thread_id, ns).
//
// Within a thread supersteps are strictly serialized; across threads there
// is no ordering. Resuming an existing thread_id restores the latest
// checkpoint and continues at its recorded next node, giving at-least-once
// node execution deduplicated by task ID and idempotency key.
type Engine[S any] struct {
	mu        sync.RWMutex
	reducer   Reducer[S]
	nodes     map[string]Node[S]
	policies  map[string]NodePolicy
	edges     []Edge[S]
	startNode string
	channels  ChannelFunc[S]

	store   store.Store[S]
	emitter emit.Emitter
	opts    Options

	cancelMu  sync.Mutex
	cancelled map[string]bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Engine. The reducer and store are required for Run;
// the emitter may be nil.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	return &Engine[S]{
		reducer:   reducer,
		nodes:     make(map[string]Node[S]),
		policies:  make(map[string]NodePolicy),
		store:     st,
		emitter:   emitter,
		opts:      opts,
		cancelled: make(map[string]bool),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- retry jitter
	}
}

// Add registers a node. IDs must be unique and non-empty.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	return nil
}

// SetPolicy attaches a per-node execution policy.
func (e *Engine[S]) SetPolicy(nodeID string, policy NodePolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	if policy.RetryPolicy != nil {
		if err := policy.RetryPolicy.Validate(); err != nil {
			return err
		}
	}
	e.policies[nodeID] = policy
	return nil
}

// SetChannels installs the channel splitter used for checkpoint blobs.
func (e *Engine[S]) SetChannels(fn ChannelFunc[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = fn
}

// StartAt sets the entry node for new threads.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	e.startNode = nodeID
	return nil
}

// Connect adds an edge. A nil predicate makes it unconditional. Node
// existence is validated lazily at execution time to allow flexible
// construction order.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" || to == "" {
		return &EngineError{Message: "edge endpoints cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Cancel raises the cooperative cancellation flag for a thread. The flag is
// observed at the next superstep boundary; an in-flight node attempt may
// complete, but its result is discarded in favor of a terminal checkpoint
// with status cancelled.
func (e *Engine[S]) Cancel(threadID string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancelled[threadID] = true
}

func (e *Engine[S]) isCancelled(threadID string) bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	return e.cancelled[threadID]
}

func (e *Engine[S]) clearCancel(threadID string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	delete(e.cancelled, threadID)
}

// Thread returns the registry record for a thread.
func (e *Engine[S]) Thread(ctx context.Context, threadID string) (store.ThreadRecord[S], error) {
	return e.store.GetThread(ctx, threadID)
}

// Run executes the workflow for threadID until a terminal node, a failure,
// or cancellation. If the thread already has checkpoints, initial is ignored
// and execution resumes from the latest checkpoint's recorded next node.
// A thread that already completed returns its final state without executing.
func (e *Engine[S]) Run(ctx context.Context, threadID string, initial S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}
	if threadID == "" {
		return zero, &EngineError{Message: "thread ID cannot be empty", Code: "MISSING_THREAD_ID"}
	}

	ns := e.opts.Namespace
	now := time.Now().UTC()

	currentState := initial
	currentNode := e.startNode
	superstep := 0
	parentID := ""

	latest, err := e.store.LatestCheckpoint(ctx, threadID, ns)
	switch {
	case err == nil:
		if latest.Type == store.CheckpointTypeTerminal {
			if latest.Metadata.Status == store.StatusFailed {
				return latest.State, &EngineError{Message: latest.Metadata.Error, Code: "THREAD_FAILED"}
			}
			return latest.State, nil
		}
		currentState = latest.State
		currentNode = latest.Metadata.NextNode
		superstep = latest.Superstep
		parentID = latest.CheckpointID

		// A crash between PutWrites and PutCheckpoint leaves pending writes
		// for a superstep that never committed. Fold them and continue at
		// their recorded route so the node does not execute twice.
		folded, route, taskIDs, ferr := e.foldPendingWrites(ctx, threadID, ns, currentState)
		if ferr != nil {
			return zero, ferr
		}
		if len(taskIDs) > 0 {
			currentState = folded
			superstep++
			cp, cerr := e.commitCheckpoint(ctx, threadID, ns, parentID, superstep, latest.Metadata.NodeID, route, currentState, 1, now, taskIDs)
			if cerr != nil {
				return zero, cerr
			}
			parentID = cp.CheckpointID
			if route.Terminal {
				e.finishThread(ctx, threadID, currentState, store.StatusCompleted, now)
				return currentState, nil
			}
			currentNode = route.To
		}
	case errors.Is(err, store.ErrNotFound):
		rec := store.ThreadRecord[S]{
			ThreadID:  threadID,
			Status:    store.StatusRunning,
			State:     currentState,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if perr := e.store.PutThread(ctx, rec); perr != nil {
			return zero, &EngineError{Message: "failed to register thread: " + perr.Error(), Code: "STORE_ERROR"}
		}
		e.emit(emit.Event{ThreadID: threadID, NodeID: currentNode, Msg: "thread_start"})
	default:
		return zero, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR"}
	}

	defer e.clearCancel(threadID)

	for {
		if e.isCancelled(threadID) {
			e.writeTerminal(ctx, threadID, ns, parentID, superstep+1, currentNode, currentState, store.StatusCancelled, "cancelled by client", now)
			e.finishThread(ctx, threadID, currentState, store.StatusCancelled, now)
			e.emit(emit.Event{ThreadID: threadID, Superstep: superstep, Msg: "thread_cancelled"})
			return currentState, ErrCancelled
		}

		superstep++
		if e.opts.MaxSteps > 0 && superstep > e.opts.MaxSteps {
			e.writeTerminal(ctx, threadID, ns, parentID, superstep, currentNode, currentState, store.StatusFailed, ErrMaxSteps.Error(), now)
			e.finishThread(ctx, threadID, currentState, store.StatusFailed, now)
			return zero, ErrMaxSteps
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		policy, hasPolicy := e.policies[currentNode]
		e.mu.RUnlock()
		if !exists {
			return zero, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}
		var policyPtr *NodePolicy
		if hasPolicy {
			policyPtr = &policy
		}

		result, attempts, runErr := e.runWithRetry(ctx, threadID, nodeImpl, currentNode, currentState, policyPtr, superstep)
		if runErr != nil {
			e.writeTerminal(ctx, threadID, ns, parentID, superstep, currentNode, currentState, store.StatusFailed, runErr.Error(), now)
			e.finishThread(ctx, threadID, currentState, store.StatusFailed, now)
			e.emit(emit.Event{ThreadID: threadID, Superstep: superstep, NodeID: currentNode, Msg: "thread_failed",
				Meta: map[string]any{"error": runErr.Error(), "attempts": attempts}})
			return zero, runErr
		}

		route := result.Route
		if !route.Terminal && route.To == "" {
			next := e.evaluateEdges(currentNode, e.reducer(currentState, result.Delta))
			if next == "" {
				err := &EngineError{Message: "no valid route from node: " + currentNode, Code: "NO_ROUTE"}
				e.writeTerminal(ctx, threadID, ns, parentID, superstep, currentNode, currentState, store.StatusFailed, err.Error(), now)
				e.finishThread(ctx, threadID, currentState, store.StatusFailed, now)
				return zero, err
			}
			route = Goto(next)
		}

		// Pending write first, checkpoint second. A crash between the two is
		// recovered by foldPendingWrites above.
		taskID := uuid.NewString()
		if werr := e.recordWrite(ctx, threadID, ns, parentID, taskID, route, result.Delta); werr != nil {
			return zero, werr
		}

		currentState = e.reducer(currentState, result.Delta)

		cp, cerr := e.commitCheckpoint(ctx, threadID, ns, parentID, superstep, currentNode, route, currentState, attempts, now, []string{taskID})
		if cerr != nil {
			return zero, cerr
		}
		parentID = cp.CheckpointID

		e.emit(emit.Event{ThreadID: threadID, Superstep: superstep, NodeID: currentNode, Msg: "node_completed",
			Meta: map[string]any{"checkpoint_id": cp.CheckpointID, "attempts": attempts}})
		if e.opts.Metrics != nil {
			e.opts.Metrics.CheckpointCommitted()
		}

		if route.Terminal {
			e.finishThread(ctx, threadID, currentState, store.StatusCompleted, now)
			e.emit(emit.Event{ThreadID: threadID, Superstep: superstep, Msg: "thread_completed"})
			return currentState, nil
		}

		if uerr := e.store.PutThread(ctx, store.ThreadRecord[S]{
			ThreadID: threadID, Status: store.StatusRunning, State: currentState, UpdatedAt: time.Now().UTC(),
		}); uerr != nil {
			return zero, &EngineError{Message: "failed to update thread: " + uerr.Error(), Code: "STORE_ERROR"}
		}

		currentNode = route.To
	}
}

// Resume continues an existing thread from its latest checkpoint.
func (e *Engine[S]) Resume(ctx context.Context, threadID string) (S, error) {
	var zero S
	if _, err := e.store.LatestCheckpoint(ctx, threadID, e.opts.Namespace); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return zero, &EngineError{Message: "no checkpoint for thread: " + threadID, Code: "THREAD_NOT_FOUND"}
		}
		return zero, err
	}
	return e.Run(ctx, threadID, zero)
}

func (e *Engine[S]) validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	if _, ok := e.nodes[e.startNode]; !ok {
		return &EngineError{Message: "start node does not exist: " + e.startNode, Code: "NODE_NOT_FOUND"}
	}
	return nil
}

// runWithRetry executes one node with its retry policy. Timeouts always take
// the retryable path; other errors consult the policy's predicate.
func (e *Engine[S]) runWithRetry(
	ctx context.Context,
	threadID string,
	node Node[S],
	nodeID string,
	state S,
	policy *NodePolicy,
	superstep int,
) (NodeResult[S], int, error) {
	rp := e.opts.DefaultRetryPolicy
	if policy != nil && policy.RetryPolicy != nil {
		rp = policy.RetryPolicy
	}
	maxAttempts := 1
	if rp != nil && rp.MaxAttempts > 1 {
		maxAttempts = rp.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		result, timeoutErr := runNodeWithTimeout(ctx, node, nodeID, state, policy, e.opts.DefaultNodeTimeout)
		if e.opts.Metrics != nil {
			status := "success"
			if result.Err != nil || timeoutErr != nil {
				status = "error"
			}
			e.opts.Metrics.ObserveStepLatency(nodeID, status, time.Since(start))
		}

		err := result.Err
		isTimeout := timeoutErr != nil
		if isTimeout {
			err = timeoutErr
		}
		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err

		retryable := isTimeout
		if !retryable && rp != nil && rp.Retryable != nil {
			retryable = rp.Retryable(err)
		}
		if !retryable || attempt == maxAttempts-1 {
			break
		}

		e.rngMu.Lock()
		delay := computeBackoff(attempt, backoffBase(rp), backoffMax(rp), e.rng)
		e.rngMu.Unlock()

		if e.opts.Metrics != nil {
			e.opts.Metrics.RetryRecorded(nodeID)
		}
		e.emit(emit.Event{ThreadID: threadID, Superstep: superstep, NodeID: nodeID, Msg: "node_retry",
			Meta: map[string]any{"attempt": attempt + 1, "delay_ms": delay.Milliseconds(), "error": err.Error()}})

		select {
		case <-ctx.Done():
			return NodeResult[S]{}, attempt + 1, ctx.Err()
		case <-time.After(delay):
		}
	}

	if rp != nil && rp.Retryable != nil && rp.Retryable(lastErr) {
		return NodeResult[S]{}, maxAttempts, fmt.Errorf("%w: node %s: %w", ErrMaxAttemptsExceeded, nodeID, lastErr)
	}
	return NodeResult[S]{}, maxAttempts, &NodeError{Message: lastErr.Error(), Code: "NODE_FAILED", NodeID: nodeID, Cause: lastErr}
}

func backoffBase(rp *RetryPolicy) time.Duration {
	if rp == nil || rp.BaseDelay <= 0 {
		return 100 * time.Millisecond
	}
	return rp.BaseDelay
}

func backoffMax(rp *RetryPolicy) time.Duration {
	if rp == nil {
		return 0
	}
	return rp.MaxDelay
}

func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// recordWrite persists the node's patch as a pending write keyed by task ID.
// The route is encoded in the task path so crash recovery can continue
// without re-executing the node.
func (e *Engine[S]) recordWrite(ctx context.Context, threadID, ns, parentID, taskID string, route Next, delta S) error {
	blob, err := json.Marshal(delta)
	if err != nil {
		return &EngineError{Message: "failed to marshal delta: " + err.Error(), Code: "ENCODE_ERROR"}
	}
	w := store.CheckpointWrite{
		ThreadID:     threadID,
		NS:           ns,
		CheckpointID: parentID,
		TaskID:       taskID,
		TaskPath:     encodeRoute(route),
		Idx:          0,
		Channel:      "delta",
		Type:         "json",
		Blob:         blob,
	}
	if err := e.store.PutWrites(ctx, []store.CheckpointWrite{w}); err != nil {
		return &EngineError{Message: "failed to record pending write: " + err.Error(), Code: "STORE_ERROR"}
	}
	return nil
}

// foldPendingWrites applies orphaned pending writes left by a crash between
// write and checkpoint commit. Returns the folded state, the recorded route,
// and the folded task IDs (empty when there was nothing to fold).
func (e *Engine[S]) foldPendingWrites(ctx context.Context, threadID, ns string, state S) (S, Next, []string, error) {
	writes, err := e.store.PendingWrites(ctx, threadID, ns)
	if err != nil {
		return state, Next{}, nil, &EngineError{Message: "failed to load pending writes: " + err.Error(), Code: "STORE_ERROR"}
	}
	if len(writes) == 0 {
		return state, Next{}, nil, nil
	}

	var route Next
	taskIDs := make([]string, 0, len(writes))
	for _, w := range writes {
		var delta S
		if uerr := json.Unmarshal(w.Blob, &delta); uerr != nil {
			return state, Next{}, nil, &EngineError{Message: "failed to decode pending write: " + uerr.Error(), Code: "DECODE_ERROR"}
		}
		state = e.reducer(state, delta)
		route = decodeRoute(w.TaskPath)
		taskIDs = append(taskIDs, w.TaskID)
	}
	return state, route, taskIDs, nil
}

// commitCheckpoint atomically persists a superstep checkpoint and discards
// the folded pending writes in the same store transaction.
func (e *Engine[S]) commitCheckpoint(ctx context.Context, threadID, ns, parentID string, superstep int, nodeID string, route Next, state S, attempts int, now time.Time, folded []string) (store.Checkpoint[S], error) {
	key, err := idempotencyKey(threadID, ns, superstep, nodeID, state)
	if err != nil {
		return store.Checkpoint[S]{}, &EngineError{Message: "failed to compute idempotency key: " + err.Error(), Code: "ENCODE_ERROR"}
	}

	status := store.StatusRunning
	cpType := store.CheckpointTypeSuperstep
	if route.Terminal {
		status = store.StatusCompleted
		cpType = store.CheckpointTypeTerminal
	}

	cp := store.Checkpoint[S]{
		ThreadID:           threadID,
		NS:                 ns,
		CheckpointID:       NewCheckpointID(time.Now().UTC()),
		ParentCheckpointID: parentID,
		Superstep:          superstep,
		Type:               cpType,
		State:              state,
		Metadata: store.CheckpointMeta{
			NodeID:   nodeID,
			NextNode: route.To,
			Status:   status,
			Attempts: attempts,
		},
		IdempotencyKey: key,
		CreatedAt:      now,
	}

	blobs, berr := e.buildBlobs(threadID, ns, superstep, state)
	if berr != nil {
		return store.Checkpoint[S]{}, berr
	}

	if perr := e.store.PutCheckpoint(ctx, cp, blobs, folded); perr != nil {
		if errors.Is(perr, store.ErrDuplicateCheckpoint) {
			// The superstep already committed in a prior execution.
			return cp, nil
		}
		return store.Checkpoint[S]{}, &EngineError{Message: "failed to save checkpoint: " + perr.Error(), Code: "STORE_ERROR"}
	}
	return cp, nil
}

func (e *Engine[S]) buildBlobs(threadID, ns string, superstep int, state S) ([]store.CheckpointBlob, error) {
	e.mu.RLock()
	channels := e.channels
	e.mu.RUnlock()

	values := map[string]any{"state": any(state)}
	if channels != nil {
		values = channels(state)
	}

	blobs := make([]store.CheckpointBlob, 0, len(values))
	for channel, v := range values {
		blob, err := json.Marshal(v)
		if err != nil {
			return nil, &EngineError{Message: "failed to marshal channel " + channel + ": " + err.Error(), Code: "ENCODE_ERROR"}
		}
		blobs = append(blobs, store.CheckpointBlob{
			ThreadID: threadID,
			NS:       ns,
			Channel:  channel,
			Version:  superstep,
			Type:     "json",
			Blob:     blob,
		})
	}
	return blobs, nil
}

// writeTerminal best-effort commits a terminal checkpoint for failure and
// cancellation paths. Store errors here are swallowed: the thread registry
// row still records the final status.
func (e *Engine[S]) writeTerminal(ctx context.Context, threadID, ns, parentID string, superstep int, nodeID string, state S, status store.ThreadStatus, msg string, now time.Time) {
	key, err := idempotencyKey(threadID, ns, superstep, nodeID+":"+string(status), state)
	if err != nil {
		return
	}
	cp := store.Checkpoint[S]{
		ThreadID:           threadID,
		NS:                 ns,
		CheckpointID:       NewCheckpointID(time.Now().UTC()),
		ParentCheckpointID: parentID,
		Superstep:          superstep,
		Type:               store.CheckpointTypeTerminal,
		State:              state,
		Metadata:           store.CheckpointMeta{NodeID: nodeID, Status: status, Error: msg},
		IdempotencyKey:     key,
		CreatedAt:          now,
	}
	blobs, berr := e.buildBlobs(threadID, ns, superstep, state)
	if berr != nil {
		return
	}
	_ = e.store.PutCheckpoint(ctx, cp, blobs, nil)
}

func (e *Engine[S]) finishThread(ctx context.Context, threadID string, state S, status store.ThreadStatus, _ time.Time) {
	_ = e.store.PutThread(ctx, store.ThreadRecord[S]{
		ThreadID:  threadID,
		Status:    status,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	})
	if e.opts.Metrics != nil {
		e.opts.Metrics.ThreadFinished(string(status))
	}
}

func (e *Engine[S]) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func encodeRoute(route Next) string {
	if route.Terminal {
		return "stop"
	}
	return "goto:" + route.To
}

func decodeRoute(path string) Next {
	if path == "stop" {
		return Stop()
	}
	if strings.HasPrefix(path, "goto:") {
		return Goto(strings.TrimPrefix(path, "goto:"))
	}
	return Next{}
}
