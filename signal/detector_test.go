package signal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Three near-identical edits at the same line inside the window must count as
// a retry loop and trigger with edit_pattern as the primary signal.
func TestRetryDetectionTriggers(t *testing.T) {
	cfg := DefaultConfig()
	hub := NewHub(cfg, nil, nil, nil)

	base := time.Now()
	for _, offset := range []int64{0, 1000, 2000} {
		hub.Observe(Event{
			TSMs:    base.UnixMilli() + offset,
			FileKey: "main.ts",
			Kind:    KindEdit,
			Payload: "const x = 1;",
			Line:    10,
		})
	}

	dec := hub.Decide("main.ts", base.Add(3*time.Second), time.Time{})
	require.True(t, dec.ShouldTrigger, "retry loop must trigger")
	assert.Equal(t, TypeEditPattern, dec.PrimarySignal)

	var edit Signal
	for _, sig := range dec.Signals {
		if sig.Type == TypeEditPattern {
			edit = sig
		}
	}
	require.NotEmpty(t, edit.Type, "edit_pattern signal missing")
	retries, ok := metaInt(edit.Metadata, "retryCount")
	require.True(t, ok)
	assert.GreaterOrEqual(t, retries, 3)
}

// Two diagnostic errors with no edits must trigger with a non-edit primary.
func TestErrorThresholdTriggers(t *testing.T) {
	cfg := DefaultConfig()
	hub := NewHub(cfg, nil, nil, nil)

	base := time.Now()
	for i, msg := range []string{"TS1005: ';' expected", "TS2304: Cannot find name 'x'"} {
		hub.Observe(Event{
			TSMs:    base.UnixMilli() + int64(i)*100,
			FileKey: "main.ts",
			Kind:    KindDiagnosticError,
			Payload: msg,
		})
	}

	dec := hub.Decide("main.ts", base.Add(time.Second), time.Time{})
	require.True(t, dec.ShouldTrigger)
	assert.NotEqual(t, TypeEditPattern, dec.PrimarySignal)
}

func TestEditPatternDetectorFrequency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowMS = 60_000 // 1 minute window so per-minute frequency is direct
	d := NewEditPatternDetector(cfg, nil)

	base := time.Now()
	// 12 distinct edits in one minute exceeds the threshold of 10/min.
	for i := 0; i < 12; i++ {
		d.Observe(Event{
			TSMs:    base.UnixMilli() + int64(i)*4000,
			FileKey: "f",
			Kind:    KindEdit,
			Payload: fmt.Sprintf("let v%d = compute(%d);", i, i*17),
			Line:    i * 10, // far apart: no retries
		})
	}

	sig, ok := d.Evaluate("f", base.Add(50*time.Second))
	require.True(t, ok)
	assert.Equal(t, TypeEditPattern, sig.Type)
	assert.Greater(t, sig.Score, 0.9)

	freq, isFloat := sig.Metadata["editFrequencyPerMin"].(float64)
	require.True(t, isFloat)
	assert.Greater(t, freq, 10.0)
}

func TestEditPatternDetectorWindowPruning(t *testing.T) {
	cfg := DefaultConfig()
	d := NewEditPatternDetector(cfg, nil)

	base := time.Now()
	d.Observe(Event{TSMs: base.UnixMilli(), FileKey: "f", Kind: KindEdit, Payload: "x", Line: 1})

	// Well past the window: nothing left to report.
	_, ok := d.Evaluate("f", base.Add(time.Duration(cfg.WindowMS)*time.Millisecond+time.Minute))
	assert.False(t, ok)
}

func TestEditPatternDetectorIgnoresDistantLines(t *testing.T) {
	cfg := DefaultConfig()
	d := NewEditPatternDetector(cfg, nil)

	base := time.Now()
	d.Observe(Event{TSMs: base.UnixMilli(), FileKey: "f", Kind: KindEdit, Payload: "const x = 1;", Line: 10})
	d.Observe(Event{TSMs: base.UnixMilli() + 1000, FileKey: "f", Kind: KindEdit, Payload: "const x = 1;", Line: 50})

	sig, ok := d.Evaluate("f", base.Add(2*time.Second))
	require.True(t, ok)
	retries, _ := metaInt(sig.Metadata, "retryCount")
	assert.Zero(t, retries, "edits 40 lines apart are not retries")
}

func TestUndoRedoClassification(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Now().UnixMilli()

	tests := []struct {
		name  string
		kinds []EventKind
		want  string
	}{
		{"thrash", []EventKind{KindUndo, KindRedo, KindUndo, KindRedo, KindUndo, KindRedo}, PatternThrash},
		{"revert", []EventKind{KindUndo, KindUndo, KindUndo, KindUndo, KindUndo, KindRedo}, PatternRevert},
		{"explore", []EventKind{KindUndo, KindUndo, KindRedo, KindRedo, KindRedo, KindRedo}, PatternExplore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewUndoRedoDetector(cfg)
			for i, kind := range tt.kinds {
				d.Observe(Event{TSMs: base + int64(i)*500, FileKey: "f", Kind: kind})
			}
			sig, ok := d.Evaluate("f", time.UnixMilli(base).Add(5*time.Second))
			require.True(t, ok)
			assert.Equal(t, tt.want, sig.Metadata["pattern"])
			assert.Positive(t, sig.Score)
		})
	}
}

func TestTimePatternRequiresErrorsAndGap(t *testing.T) {
	cfg := DefaultConfig()
	d := NewTimePatternDetector(cfg)
	base := time.Now()

	d.Observe(Event{TSMs: base.UnixMilli(), FileKey: "f", Kind: KindEdit})

	// Long gap but no errors: silent.
	_, ok := d.Evaluate("f", base.Add(time.Minute))
	assert.False(t, ok)

	// With a recent error the same gap reports hesitation.
	d.Observe(Event{TSMs: base.UnixMilli() + 1000, FileKey: "f", Kind: KindDiagnosticError, Payload: "boom"})
	sig, ok := d.Evaluate("f", base.Add(time.Minute))
	require.True(t, ok)
	hes, isInt := sig.Metadata["hesitationMs"].(int64)
	require.True(t, isInt)
	assert.GreaterOrEqual(t, hes, cfg.HesitationThresholdMS)

	// Short gap: silent even with errors.
	_, ok = d.Evaluate("f", base.Add(10*time.Second))
	assert.False(t, ok)
}

func TestTerminalDetectorFiltersNonErrors(t *testing.T) {
	cfg := DefaultConfig()
	d := NewTerminalDetector(cfg)
	base := time.Now().UnixMilli()

	d.Observe(Event{TSMs: base, FileKey: "f", Kind: KindTerminalError, Payload: "$ npm run build"})
	d.Observe(Event{TSMs: base + 1, FileKey: "f", Kind: KindTerminalError, Payload: "Error: Cannot find module 'left-pad'"})
	d.Observe(Event{TSMs: base + 2, FileKey: "f", Kind: KindTerminalError, Payload: "exit status 2"})

	sig, ok := d.Evaluate("f", time.UnixMilli(base).Add(time.Second))
	require.True(t, ok)
	count, _ := metaInt(sig.Metadata, "errorCount")
	assert.Equal(t, 2, count, "command echo must not count as an error")
	assert.Len(t, sig.Metadata["terminalErrors"], 2)
}

func TestTerminalDetectorCapsErrors(t *testing.T) {
	cfg := DefaultConfig()
	d := NewTerminalDetector(cfg)
	base := time.Now().UnixMilli()

	for i := 0; i < cfg.MaxErrorsPerFile*2; i++ {
		d.Observe(Event{TSMs: base + int64(i), FileKey: "f", Kind: KindDiagnosticError, Payload: "error: x"})
	}
	sig, ok := d.Evaluate("f", time.UnixMilli(base).Add(time.Second))
	require.True(t, ok)
	count, _ := metaInt(sig.Metadata, "errorCount")
	assert.Equal(t, cfg.MaxErrorsPerFile, count)
}

func TestDebugDetectorScoresChurn(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDebugDetector(cfg)
	base := time.Now().UnixMilli()

	for i := 0; i < 4; i++ {
		d.Observe(Event{TSMs: base + int64(i)*200, FileKey: "f", Kind: KindDebugEvent, Payload: "breakpoint"})
	}
	sig, ok := d.Evaluate("f", time.UnixMilli(base).Add(time.Second))
	require.True(t, ok)
	lowScore := sig.Score

	// The same churn right after an error scores higher.
	d2 := NewDebugDetector(cfg)
	d2.Observe(Event{TSMs: base, FileKey: "f", Kind: KindTerminalError, Payload: "panic: nil deref"})
	for i := 0; i < 4; i++ {
		d2.Observe(Event{TSMs: base + int64(i)*200, FileKey: "f", Kind: KindDebugEvent, Payload: "breakpoint"})
	}
	sig2, ok := d2.Evaluate("f", time.UnixMilli(base).Add(time.Second))
	require.True(t, ok)
	assert.Greater(t, sig2.Score, lowScore)
}

func TestSemanticDetectorDisabledContributesNothing(t *testing.T) {
	cfg := DefaultConfig() // SemanticEnabled false
	d := NewSemanticDetector(cfg, nil, nil, nil)
	d.Observe(Event{TSMs: time.Now().UnixMilli(), FileKey: "f", Kind: KindEdit, Payload: "code"})

	_, ok := d.Evaluate("f", time.Now())
	assert.False(t, ok)
}

func TestDetectorsIsolatePerFile(t *testing.T) {
	cfg := DefaultConfig()
	hub := NewHub(cfg, nil, nil, nil)
	base := time.Now()

	for i := 0; i < 3; i++ {
		hub.Observe(Event{TSMs: base.UnixMilli() + int64(i)*1000, FileKey: "a.ts", Kind: KindEdit, Payload: "const x = 1;", Line: 5})
	}

	dec := hub.Decide("b.ts", base.Add(5*time.Second), time.Time{})
	assert.False(t, dec.ShouldTrigger)
	assert.Empty(t, dec.Signals, "a.ts activity must not leak into b.ts")
}

func TestRingCapAndPrune(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.append(Event{TSMs: int64(i)})
	}
	require.Equal(t, 3, r.len())
	assert.Equal(t, int64(2), r.all()[0].TSMs, "oldest events drop at capacity")

	r.prune(4)
	require.Equal(t, 1, r.len())
	assert.Equal(t, int64(4), r.all()[0].TSMs)
}
