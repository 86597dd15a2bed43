package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/aura-go/fault"
	"github.com/dshills/aura-go/signal"
	"github.com/dshills/aura-go/struggle"
)

// Feedback actions applied by the user to a surfaced recommendation.
const (
	ActionShow    = "show"
	ActionSnooze  = "snooze"
	ActionDisable = "disable"
	ActionEnable  = "enable"
)

// Sentinel faults for suppressed submissions.
var (
	ErrDisabled = fault.New(fault.KindConflict, "struggle triggers disabled for file")
	ErrSnoozed  = fault.New(fault.KindConflict, "struggle triggers snoozed")
)

// Runner executes the struggle workflow for a thread. *struggle.Workflow
// satisfies it.
type Runner interface {
	Run(ctx context.Context, threadID string, inputs struggle.Inputs) (struggle.State, error)
}

type fileState struct {
	disabled     bool
	snoozedUntil time.Time
	lastShown    time.Time
}

type inflightCall struct {
	done  chan struct{}
	state struggle.State
	err   error
}

// Bridge submits aggregated decisions to the workflow runtime. Thread IDs
// are derived as {file_key}:{epoch_window}, so repeated triggers for the
// same file within one window coalesce onto one thread; concurrent
// submissions for that thread share a single run.
type Bridge struct {
	runner Runner
	cfg    Config
	log    *zap.Logger

	mu       sync.Mutex
	inflight map[string]*inflightCall
	files    map[string]*fileState
}

// NewBridge builds a bridge. A nil logger disables logging.
func NewBridge(runner Runner, cfg Config, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.EpochWindow <= 0 {
		cfg.EpochWindow = time.Minute
	}
	return &Bridge{
		runner:   runner,
		cfg:      cfg,
		log:      log,
		inflight: make(map[string]*inflightCall),
		files:    make(map[string]*fileState),
	}
}

// ThreadID derives the coalescing thread identifier for a file at a point
// in time.
func (b *Bridge) ThreadID(fileKey string, now time.Time) string {
	epoch := now.UnixMilli() / b.cfg.EpochWindow.Milliseconds()
	return fmt.Sprintf("%s:%d", fileKey, epoch)
}

// Submit runs the struggle workflow for a qualifying decision. Disabled or
// snoozed files are rejected without executing anything.
func (b *Bridge) Submit(ctx context.Context, dec signal.Decision, sctx Context, now time.Time) (struggle.State, error) {
	b.mu.Lock()
	if fs, ok := b.files[sctx.FileKey]; ok {
		if fs.disabled {
			b.mu.Unlock()
			return struggle.State{}, ErrDisabled
		}
		if now.Before(fs.snoozedUntil) {
			b.mu.Unlock()
			return struggle.State{}, ErrSnoozed
		}
	}

	threadID := b.ThreadID(sctx.FileKey, now)
	if call, ok := b.inflight[threadID]; ok {
		b.mu.Unlock()
		select {
		case <-call.done:
			return call.state, call.err
		case <-ctx.Done():
			return struggle.State{}, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	b.inflight[threadID] = call
	b.mu.Unlock()

	inputs := b.buildInputs(dec, sctx, now)
	state, err := b.runner.Run(ctx, threadID, inputs)

	b.mu.Lock()
	call.state, call.err = state, err
	close(call.done)
	delete(b.inflight, threadID)
	b.mu.Unlock()

	if err != nil {
		b.log.Warn("struggle submission failed",
			zap.String("thread_id", threadID), zap.Error(err))
	}
	return state, err
}

// Feedback applies a user action for a file. Snooze uses d; other actions
// ignore it.
func (b *Bridge) Feedback(fileKey, action string, d time.Duration, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	fs, ok := b.files[fileKey]
	if !ok {
		fs = &fileState{}
		b.files[fileKey] = fs
	}

	switch action {
	case ActionShow:
		fs.lastShown = now
	case ActionSnooze:
		if d <= 0 {
			return fault.New(fault.KindInvalidInput, "snooze requires a positive duration")
		}
		fs.snoozedUntil = now.Add(d)
	case ActionDisable:
		fs.disabled = true
	case ActionEnable:
		fs.disabled = false
		fs.snoozedUntil = time.Time{}
	default:
		return fault.New(fault.KindInvalidInput, "unknown feedback action: %s", action)
	}
	return nil
}

// SnoozedUntil reports the file's active snooze bound, zero when none.
func (b *Bridge) SnoozedUntil(fileKey string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fs, ok := b.files[fileKey]; ok {
		return fs.snoozedUntil
	}
	return time.Time{}
}

// buildInputs flattens the decision and context into workflow inputs,
// honoring the privacy flags.
func (b *Bridge) buildInputs(dec signal.Decision, sctx Context, now time.Time) struggle.Inputs {
	in := struggle.Inputs{
		FileKey:         sctx.FileKey,
		LanguageID:      sctx.LanguageID,
		Source:          "aura",
		ClientTimestamp: now.UTC().Format(time.RFC3339),
		ErrorLogs:       sctx.DiagnosticsErrors,
		CombinedScore:   dec.CombinedScore,
		PrimarySignal:   dec.PrimarySignal,
	}
	if b.cfg.Privacy.SendFilePath {
		in.FilePath = sctx.FilePath
	}
	if b.cfg.Privacy.SendCodeSnippet {
		in.CodeSnippet = sctx.Snippet
	}

	for _, sig := range dec.Signals {
		switch sig.Type {
		case signal.TypeEditPattern:
			if f, ok := sig.Metadata["editFrequencyPerMin"].(float64); ok {
				in.EditFrequency = f
			}
			if n, ok := metaCount(sig.Metadata, "retryCount"); ok {
				in.RetryCount = n
			}
		case signal.TypeUndoRedo:
			if p, ok := sig.Metadata["pattern"].(string); ok {
				in.UndoRedoPattern = p
			}
		case signal.TypeTimePattern:
			if h, ok := sig.Metadata["hesitationMs"].(int64); ok {
				in.HesitationMs = h
			}
		case signal.TypeTerminal:
			if msgs, ok := sig.Metadata["terminalErrors"].([]string); ok {
				in.TerminalErrors = msgs
			}
		case signal.TypeDebug:
			if n, ok := metaCount(sig.Metadata, "breakpointChanges"); ok {
				in.DebugBreakpointChanges = n
			}
		}
	}

	in.StruggleReason = struggleReason(dec)
	return in
}

func metaCount(meta map[string]any, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func struggleReason(dec signal.Decision) string {
	switch dec.PrimarySignal {
	case signal.TypeEditPattern:
		return "repeated similar edits at the same location"
	case signal.TypeUndoRedo:
		return "undo/redo churn"
	case signal.TypeTimePattern:
		return "long hesitation after errors"
	case signal.TypeTerminal:
		return "repeated terminal or diagnostic errors"
	case signal.TypeDebug:
		return "debugger churn after errors"
	case signal.TypeSemantic:
		return "drift from idiomatic patterns"
	}
	return ""
}
