package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store[S] for tests and single-process use.
// All data is lost on process exit.
type MemStore[S any] struct {
	mu          sync.RWMutex
	threads     map[string]ThreadRecord[S]
	checkpoints map[string][]Checkpoint[S]   // "threadID\x00ns" -> ordered by superstep
	blobs       map[string][]CheckpointBlob  // "threadID\x00ns"
	writes      map[string][]CheckpointWrite // "threadID\x00ns"
	idempotency map[string]bool              // idempotency key -> committed
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		threads:     make(map[string]ThreadRecord[S]),
		checkpoints: make(map[string][]Checkpoint[S]),
		blobs:       make(map[string][]CheckpointBlob),
		writes:      make(map[string][]CheckpointWrite),
		idempotency: make(map[string]bool),
	}
}

func nsKey(threadID, ns string) string { return threadID + "\x00" + ns }

// PutThread upserts the registry row, preserving CreatedAt on update.
func (m *MemStore[S]) PutThread(_ context.Context, rec ThreadRecord[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.threads[rec.ThreadID]; ok {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
	}
	m.threads[rec.ThreadID] = rec
	return nil
}

func (m *MemStore[S]) GetThread(_ context.Context, threadID string) (ThreadRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.threads[threadID]
	if !ok {
		var zero ThreadRecord[S]
		return zero, ErrNotFound
	}
	return rec, nil
}

func (m *MemStore[S]) ListThreads(_ context.Context, page, pageSize int) ([]ThreadRecord[S], int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]ThreadRecord[S], 0, len(m.threads))
	for _, rec := range m.threads {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ThreadID < all[j].ThreadID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []ThreadRecord[S]{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// PutCheckpoint commits the checkpoint, replaces channel blobs, and discards
// folded pending writes in one critical section. Folded writes are discarded
// even on a duplicate idempotency key so crash recovery converges.
func (m *MemStore[S]) PutCheckpoint(_ context.Context, cp Checkpoint[S], blobs []CheckpointBlob, foldedTaskIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nsKey(cp.ThreadID, cp.NS)
	m.discardWritesLocked(key, foldedTaskIDs)

	if cp.IdempotencyKey != "" && m.idempotency[cp.IdempotencyKey] {
		return ErrDuplicateCheckpoint
	}
	if cp.IdempotencyKey != "" {
		m.idempotency[cp.IdempotencyKey] = true
	}

	m.checkpoints[key] = append(m.checkpoints[key], cp)

	// Latest version per channel wins.
	kept := make([]CheckpointBlob, 0, len(m.blobs[key]))
	replaced := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		replaced[b.Channel] = true
	}
	for _, b := range m.blobs[key] {
		if !replaced[b.Channel] {
			kept = append(kept, b)
		}
	}
	m.blobs[key] = append(kept, blobs...)

	return nil
}

func (m *MemStore[S]) LatestCheckpoint(_ context.Context, threadID, ns string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpoints[nsKey(threadID, ns)]
	if len(cps) == 0 {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}

	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Superstep > latest.Superstep {
			latest = cp
		}
	}
	return latest, nil
}

func (m *MemStore[S]) GetCheckpoint(_ context.Context, threadID, ns, checkpointID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cp := range m.checkpoints[nsKey(threadID, ns)] {
		if cp.CheckpointID == checkpointID {
			return cp, nil
		}
	}
	var zero Checkpoint[S]
	return zero, ErrNotFound
}

func (m *MemStore[S]) PutWrites(_ context.Context, writes []CheckpointWrite) error {
	if len(writes) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		key := nsKey(w.ThreadID, w.NS)
		dup := false
		for _, existing := range m.writes[key] {
			if existing.CheckpointID == w.CheckpointID && existing.TaskID == w.TaskID && existing.Idx == w.Idx {
				dup = true
				break
			}
		}
		if !dup {
			m.writes[key] = append(m.writes[key], w)
		}
	}
	return nil
}

func (m *MemStore[S]) PendingWrites(_ context.Context, threadID, ns string) ([]CheckpointWrite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := m.writes[nsKey(threadID, ns)]
	out := make([]CheckpointWrite, len(pending))
	copy(out, pending)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID == out[j].TaskID {
			return out[i].Idx < out[j].Idx
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

// Checkpoints returns all checkpoints for a thread ordered by superstep.
// Test helper, not part of the Store contract.
func (m *MemStore[S]) Checkpoints(threadID, ns string) []Checkpoint[S] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpoints[nsKey(threadID, ns)]
	out := make([]Checkpoint[S], len(cps))
	copy(out, cps)
	sort.Slice(out, func(i, j int) bool { return out[i].Superstep < out[j].Superstep })
	return out
}

func (m *MemStore[S]) discardWritesLocked(key string, taskIDs []string) {
	if len(taskIDs) == 0 {
		return
	}
	drop := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		drop[id] = true
	}
	kept := m.writes[key][:0]
	for _, w := range m.writes[key] {
		if !drop[w.TaskID] {
			kept = append(kept, w)
		}
	}
	m.writes[key] = kept
}
