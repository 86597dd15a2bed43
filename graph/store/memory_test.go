package store

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreConformance(t *testing.T) {
	runStoreConformance(t, NewMemStore[testState]())
}

func TestMemStorePreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore[testState]()

	created := time.Now().UTC().Add(-time.Hour)
	if err := s.PutThread(ctx, ThreadRecord[testState]{
		ThreadID:  "t1",
		Status:    StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}); err != nil {
		t.Fatalf("PutThread: %v", err)
	}

	// Updates that omit CreatedAt keep the original.
	if err := s.PutThread(ctx, ThreadRecord[testState]{
		ThreadID:  "t1",
		Status:    StatusRunning,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("PutThread update: %v", err)
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
}

func TestMemStoreCheckpointsHelperOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore[testState]()

	for _, step := range []int{2, 0, 1} {
		cp := checkpointFixture("t1", "run", testCheckpointID(step), "", step, testState{})
		if err := s.PutCheckpoint(ctx, cp, nil, nil); err != nil {
			t.Fatalf("PutCheckpoint: %v", err)
		}
	}

	cps := s.Checkpoints("t1", "run")
	if len(cps) != 3 {
		t.Fatalf("len = %d, want 3", len(cps))
	}
	for i, cp := range cps {
		if cp.Superstep != i {
			t.Errorf("cps[%d].Superstep = %d, want %d", i, cp.Superstep, i)
		}
	}
}

func testCheckpointID(step int) string {
	return string(rune('A' + step))
}
