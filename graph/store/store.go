// Package store provides persistence backends for workflow threads and
// checkpoints.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a thread or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateCheckpoint is returned when a checkpoint commit reuses an
// idempotency key. The original commit already succeeded; callers treat this
// as success during crash recovery.
var ErrDuplicateCheckpoint = errors.New("duplicate checkpoint: idempotency key already committed")

// Store persists thread registry rows, checkpoints, channel blobs, and
// pending writes.
//
// Isolation contract: writes for one (thread_id, ns) pair never interleave
// with another pair's. PutCheckpoint is atomic per superstep: the checkpoint
// row, all channel blobs, and the deletion of folded pending writes commit
// together or not at all.
//
// Implementations: MemStore (tests, single process), SQLiteStore (local),
// MySQLStore, PostgresStore (production).
type Store[S any] interface {
	// PutThread upserts the thread registry row.
	PutThread(ctx context.Context, rec ThreadRecord[S]) error

	// GetThread returns the registry row, or ErrNotFound.
	GetThread(ctx context.Context, threadID string) (ThreadRecord[S], error)

	// ListThreads returns one page of registry rows ordered by most recent
	// update, plus the total row count. Pages are 1-indexed.
	ListThreads(ctx context.Context, page, pageSize int) ([]ThreadRecord[S], int, error)

	// PutCheckpoint atomically commits a checkpoint with its channel blobs
	// and discards the pending writes folded into it (identified by task ID).
	// Returns ErrDuplicateCheckpoint if the idempotency key was already
	// committed.
	PutCheckpoint(ctx context.Context, cp Checkpoint[S], blobs []CheckpointBlob, foldedTaskIDs []string) error

	// LatestCheckpoint returns the most recent checkpoint for (threadID, ns),
	// or ErrNotFound.
	LatestCheckpoint(ctx context.Context, threadID, ns string) (Checkpoint[S], error)

	// GetCheckpoint returns a specific checkpoint, or ErrNotFound.
	GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (Checkpoint[S], error)

	// PutWrites records pending channel updates for a task within the
	// current superstep. Writes are idempotent on their composite key
	// (thread_id, ns, checkpoint_id, task_id, idx).
	PutWrites(ctx context.Context, writes []CheckpointWrite) error

	// PendingWrites returns writes accumulated since the latest checkpoint
	// for (threadID, ns), ordered by (task_id, idx).
	PendingWrites(ctx context.Context, threadID, ns string) ([]CheckpointWrite, error)
}
