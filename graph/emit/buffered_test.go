package emit

import "testing"

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ThreadID: "t1", Superstep: 0, NodeID: "detect", Msg: "node_completed"})
	b.Emit(Event{ThreadID: "t1", Superstep: 1, NodeID: "generate", Msg: "node_retry"})
	b.Emit(Event{ThreadID: "t2", Superstep: 0, NodeID: "detect", Msg: "node_completed"})

	if got := len(b.History("t1")); got != 2 {
		t.Fatalf("History(t1) = %d events, want 2", got)
	}
	if got := len(b.History("missing")); got != 0 {
		t.Fatalf("History(missing) = %d events, want 0", got)
	}

	// Returned slice is a copy.
	h := b.History("t1")
	h[0].Msg = "mutated"
	if b.History("t1")[0].Msg != "node_completed" {
		t.Error("History returned a shared slice")
	}
}

func TestBufferedEmitterFilter(t *testing.T) {
	b := NewBufferedEmitter()
	for step := 0; step < 5; step++ {
		msg := "node_completed"
		if step == 3 {
			msg = "node_retry"
		}
		b.Emit(Event{ThreadID: "t1", Superstep: step, NodeID: "generate", Msg: msg})
	}

	retries := b.HistoryWithFilter("t1", HistoryFilter{Msg: "node_retry"})
	if len(retries) != 1 || retries[0].Superstep != 3 {
		t.Fatalf("retry filter = %+v, want single event at superstep 3", retries)
	}

	lo, hi := 1, 2
	ranged := b.HistoryWithFilter("t1", HistoryFilter{MinSuperstep: &lo, MaxSuperstep: &hi})
	if len(ranged) != 2 {
		t.Fatalf("range filter = %d events, want 2", len(ranged))
	}
}

func TestBufferedEmitterClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ThreadID: "t1", Msg: "thread_start"})
	b.Emit(Event{ThreadID: "t2", Msg: "thread_start"})

	b.Clear("t1")
	if len(b.History("t1")) != 0 {
		t.Error("Clear(t1) left events behind")
	}
	if len(b.History("t2")) != 1 {
		t.Error("Clear(t1) touched t2")
	}

	b.Clear("")
	if len(b.History("t2")) != 0 {
		t.Error("Clear(\"\") left events behind")
	}
}
