package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type testState struct {
	Score float64 `json:"score"`
	Note  string  `json:"note"`
}

// runStoreConformance exercises the Store contract against any backend.
func runStoreConformance(t *testing.T, s Store[testState]) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetThread_missing", func(t *testing.T) {
		if _, err := s.GetThread(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutThread_upsert", func(t *testing.T) {
		created := time.Now().UTC().Truncate(time.Millisecond)
		rec := ThreadRecord[testState]{
			ThreadID:  "t-upsert",
			Status:    StatusRunning,
			State:     testState{Score: 0.4, Note: "first"},
			CreatedAt: created,
			UpdatedAt: created,
		}
		if err := s.PutThread(ctx, rec); err != nil {
			t.Fatalf("PutThread: %v", err)
		}

		rec.Status = StatusCompleted
		rec.State.Note = "second"
		rec.UpdatedAt = created.Add(time.Second)
		if err := s.PutThread(ctx, rec); err != nil {
			t.Fatalf("PutThread update: %v", err)
		}

		got, err := s.GetThread(ctx, "t-upsert")
		if err != nil {
			t.Fatalf("GetThread: %v", err)
		}
		if got.Status != StatusCompleted {
			t.Errorf("status = %q, want %q", got.Status, StatusCompleted)
		}
		if got.State.Note != "second" {
			t.Errorf("state.Note = %q, want %q", got.State.Note, "second")
		}
	})

	t.Run("ListThreads_pagination", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := 0; i < 5; i++ {
			rec := ThreadRecord[testState]{
				ThreadID:  fmt.Sprintf("t-page-%d", i),
				Status:    StatusPending,
				State:     testState{},
				CreatedAt: base,
				UpdatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := s.PutThread(ctx, rec); err != nil {
				t.Fatalf("PutThread: %v", err)
			}
		}

		page1, total, err := s.ListThreads(ctx, 1, 3)
		if err != nil {
			t.Fatalf("ListThreads: %v", err)
		}
		if total < 5 {
			t.Errorf("total = %d, want >= 5", total)
		}
		if len(page1) != 3 {
			t.Fatalf("page size = %d, want 3", len(page1))
		}
		// Most recently updated first.
		if page1[0].ThreadID != "t-page-4" {
			t.Errorf("first = %q, want t-page-4", page1[0].ThreadID)
		}

		farPage, _, err := s.ListThreads(ctx, 100, 3)
		if err != nil {
			t.Fatalf("ListThreads far page: %v", err)
		}
		if len(farPage) != 0 {
			t.Errorf("far page length = %d, want 0", len(farPage))
		}
	})

	t.Run("Checkpoint_lifecycle", func(t *testing.T) {
		threadID, ns := "t-cp", "run"

		if _, err := s.LatestCheckpoint(ctx, threadID, ns); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on empty thread, got %v", err)
		}

		cp1 := checkpointFixture(threadID, ns, "01CP1", "", 0, testState{Score: 0.1})
		if err := s.PutCheckpoint(ctx, cp1, blobFixture(threadID, ns, 0), nil); err != nil {
			t.Fatalf("PutCheckpoint: %v", err)
		}

		cp2 := checkpointFixture(threadID, ns, "01CP2", "01CP1", 1, testState{Score: 0.7})
		if err := s.PutCheckpoint(ctx, cp2, blobFixture(threadID, ns, 1), nil); err != nil {
			t.Fatalf("PutCheckpoint 2: %v", err)
		}

		latest, err := s.LatestCheckpoint(ctx, threadID, ns)
		if err != nil {
			t.Fatalf("LatestCheckpoint: %v", err)
		}
		if latest.CheckpointID != "01CP2" {
			t.Errorf("latest = %q, want 01CP2", latest.CheckpointID)
		}
		if latest.ParentCheckpointID != "01CP1" {
			t.Errorf("parent = %q, want 01CP1", latest.ParentCheckpointID)
		}
		if latest.State.Score != 0.7 {
			t.Errorf("state.Score = %v, want 0.7", latest.State.Score)
		}

		got, err := s.GetCheckpoint(ctx, threadID, ns, "01CP1")
		if err != nil {
			t.Fatalf("GetCheckpoint: %v", err)
		}
		if got.Superstep != 0 {
			t.Errorf("superstep = %d, want 0", got.Superstep)
		}

		// Same key commits once.
		dup := checkpointFixture(threadID, ns, "01CP3", "01CP2", 1, testState{Score: 0.7})
		dup.IdempotencyKey = cp2.IdempotencyKey
		if err := s.PutCheckpoint(ctx, dup, nil, nil); !errors.Is(err, ErrDuplicateCheckpoint) {
			t.Fatalf("expected ErrDuplicateCheckpoint, got %v", err)
		}
	})

	t.Run("Writes_fold_and_discard", func(t *testing.T) {
		threadID, ns := "t-writes", "run"

		writes := []CheckpointWrite{
			{ThreadID: threadID, NS: ns, CheckpointID: "01W1", TaskID: "task-b", TaskPath: "goto:next", Idx: 0, Channel: "state", Type: "json", Blob: []byte(`{"score":0.5}`)},
			{ThreadID: threadID, NS: ns, CheckpointID: "01W1", TaskID: "task-a", Idx: 1, Channel: "state", Type: "json", Blob: []byte(`{"note":"b"}`)},
			{ThreadID: threadID, NS: ns, CheckpointID: "01W1", TaskID: "task-a", Idx: 0, Channel: "state", Type: "json", Blob: []byte(`{"note":"a"}`)},
		}
		if err := s.PutWrites(ctx, writes); err != nil {
			t.Fatalf("PutWrites: %v", err)
		}
		// Replay of the same batch is a no-op.
		if err := s.PutWrites(ctx, writes); err != nil {
			t.Fatalf("PutWrites replay: %v", err)
		}

		pending, err := s.PendingWrites(ctx, threadID, ns)
		if err != nil {
			t.Fatalf("PendingWrites: %v", err)
		}
		if len(pending) != 3 {
			t.Fatalf("pending = %d, want 3", len(pending))
		}
		wantOrder := []string{"task-a/0", "task-a/1", "task-b/0"}
		for i, w := range pending {
			got := fmt.Sprintf("%s/%d", w.TaskID, w.Idx)
			if got != wantOrder[i] {
				t.Errorf("pending[%d] = %s, want %s", i, got, wantOrder[i])
			}
		}
		if pending[2].TaskPath != "goto:next" {
			t.Errorf("task_path = %q, want goto:next", pending[2].TaskPath)
		}

		// Folding task-a leaves task-b pending.
		cp := checkpointFixture(threadID, ns, "01W1", "", 0, testState{Note: "a"})
		if err := s.PutCheckpoint(ctx, cp, nil, []string{"task-a"}); err != nil {
			t.Fatalf("PutCheckpoint fold: %v", err)
		}
		pending, err = s.PendingWrites(ctx, threadID, ns)
		if err != nil {
			t.Fatalf("PendingWrites after fold: %v", err)
		}
		if len(pending) != 1 || pending[0].TaskID != "task-b" {
			t.Fatalf("pending after fold = %+v, want only task-b", pending)
		}
	})

	t.Run("Folded_writes_discarded_on_duplicate", func(t *testing.T) {
		threadID, ns := "t-dupfold", "run"

		cp := checkpointFixture(threadID, ns, "01DF1", "", 0, testState{Score: 0.2})
		if err := s.PutCheckpoint(ctx, cp, nil, nil); err != nil {
			t.Fatalf("PutCheckpoint: %v", err)
		}

		w := CheckpointWrite{ThreadID: threadID, NS: ns, CheckpointID: "01DF2", TaskID: "task-x", Idx: 0, Channel: "state", Type: "json", Blob: []byte(`{}`)}
		if err := s.PutWrites(ctx, []CheckpointWrite{w}); err != nil {
			t.Fatalf("PutWrites: %v", err)
		}

		// Recovery re-commits the same superstep; the duplicate must still
		// clear the folded write.
		dup := checkpointFixture(threadID, ns, "01DF2", "01DF1", 1, testState{Score: 0.2})
		dup.IdempotencyKey = cp.IdempotencyKey
		if err := s.PutCheckpoint(ctx, dup, nil, []string{"task-x"}); !errors.Is(err, ErrDuplicateCheckpoint) {
			t.Fatalf("expected ErrDuplicateCheckpoint, got %v", err)
		}

		pending, err := s.PendingWrites(ctx, threadID, ns)
		if err != nil {
			t.Fatalf("PendingWrites: %v", err)
		}
		if len(pending) != 0 {
			t.Fatalf("pending = %d, want 0 after duplicate commit", len(pending))
		}
	})

	t.Run("Namespace_isolation", func(t *testing.T) {
		threadID := "t-ns"
		cpA := checkpointFixture(threadID, "run", "01NSA", "", 0, testState{Note: "run"})
		cpB := checkpointFixture(threadID, "audit", "01NSB", "", 0, testState{Note: "audit"})
		if err := s.PutCheckpoint(ctx, cpA, nil, nil); err != nil {
			t.Fatalf("PutCheckpoint run: %v", err)
		}
		if err := s.PutCheckpoint(ctx, cpB, nil, nil); err != nil {
			t.Fatalf("PutCheckpoint audit: %v", err)
		}

		got, err := s.LatestCheckpoint(ctx, threadID, "audit")
		if err != nil {
			t.Fatalf("LatestCheckpoint: %v", err)
		}
		if got.State.Note != "audit" {
			t.Errorf("state.Note = %q, want audit", got.State.Note)
		}
	})
}

func checkpointFixture(threadID, ns, id, parent string, superstep int, st testState) Checkpoint[testState] {
	return Checkpoint[testState]{
		ThreadID:           threadID,
		NS:                 ns,
		CheckpointID:       id,
		ParentCheckpointID: parent,
		Superstep:          superstep,
		Type:               CheckpointTypeSuperstep,
		State:              st,
		Metadata:           CheckpointMeta{Status: StatusRunning},
		IdempotencyKey:     fmt.Sprintf("sha256:%s-%s-%s", threadID, ns, id),
		CreatedAt:          time.Now().UTC().Truncate(time.Millisecond),
	}
}

func blobFixture(threadID, ns string, version int) []CheckpointBlob {
	return []CheckpointBlob{{
		ThreadID: threadID,
		NS:       ns,
		Channel:  "state",
		Version:  version,
		Type:     "json",
		Blob:     []byte(fmt.Sprintf(`{"version":%d}`, version)),
	}}
}
