package store

import "time"

// ThreadStatus is the lifecycle state of a workflow thread.
type ThreadStatus string

const (
	StatusPending   ThreadStatus = "pending"
	StatusRunning   ThreadStatus = "running"
	StatusCompleted ThreadStatus = "completed"
	StatusFailed    ThreadStatus = "failed"
	StatusCancelled ThreadStatus = "cancelled"
)

// Checkpoint types.
const (
	CheckpointTypeSuperstep = "superstep"
	CheckpointTypeTerminal  = "terminal"
)

// Checkpoint is the durable snapshot written after every superstep.
//
// Checkpoints for a (thread_id, ns) pair form a linked list through
// ParentCheckpointID: every completed superstep's checkpoint points at the
// prior checkpoint for the same pair. Parents are referenced by ID only;
// cycles are structurally impossible because IDs are monotonic ULIDs.
type Checkpoint[S any] struct {
	ThreadID           string         `json:"thread_id"`
	NS                 string         `json:"ns"`
	CheckpointID       string         `json:"checkpoint_id"`
	ParentCheckpointID string         `json:"parent_checkpoint_id,omitempty"`
	Superstep          int            `json:"superstep"`
	Type               string         `json:"type"`
	State              S              `json:"state"`
	Metadata           CheckpointMeta `json:"metadata"`
	IdempotencyKey     string         `json:"idempotency_key"`
	CreatedAt          time.Time      `json:"created_at"`
}

// CheckpointMeta records execution context alongside the state payload.
type CheckpointMeta struct {
	// NodeID is the node whose patch produced this checkpoint.
	NodeID string `json:"node_id,omitempty"`

	// NextNode is where execution continues on resume. Empty for terminal
	// checkpoints.
	NextNode string `json:"next_node,omitempty"`

	// Status is the thread status at checkpoint time.
	Status ThreadStatus `json:"status"`

	// Error holds the recorded failure for failed threads.
	Error string `json:"error,omitempty"`

	// Attempts is how many executions the node needed (1 = no retries).
	Attempts int `json:"attempts,omitempty"`

	// InputTokens and OutputTokens accumulate LLM usage for the thread.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// CheckpointBlob is one serialized channel of a checkpoint. Version is the
// superstep at which the channel last changed.
type CheckpointBlob struct {
	ThreadID string `json:"thread_id"`
	NS       string `json:"ns"`
	Channel  string `json:"channel"`
	Version  int    `json:"version"`
	Type     string `json:"type"`
	Blob     []byte `json:"blob"`
}

// CheckpointWrite is a pending channel update recorded before it is folded
// into the next checkpoint. Writes surviving a crash are either folded on
// resume or discarded when their checkpoint commits.
type CheckpointWrite struct {
	ThreadID     string `json:"thread_id"`
	NS           string `json:"ns"`
	CheckpointID string `json:"checkpoint_id"`
	TaskID       string `json:"task_id"`
	TaskPath     string `json:"task_path,omitempty"`
	Idx          int    `json:"idx"`
	Channel      string `json:"channel"`
	Type         string `json:"type"`
	Blob         []byte `json:"blob"`
}

// ThreadRecord is the per-thread registry row backing the workflow query
// surface.
type ThreadRecord[S any] struct {
	ThreadID  string       `json:"thread_id"`
	Status    ThreadStatus `json:"status"`
	State     S            `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
