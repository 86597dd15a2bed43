package signal

import (
	"sync"
	"time"
)

// DebugDetector counts debugger activity: breakpoint churn and stepping
// shortly after errors both indicate hunting for a bug.
type DebugDetector struct {
	cfg Config

	mu    sync.Mutex
	files map[string]*debugFileState
}

type debugFileState struct {
	events      *ring
	lastErrorMS int64
}

func NewDebugDetector(cfg Config) *DebugDetector {
	return &DebugDetector{cfg: cfg, files: make(map[string]*debugFileState)}
}

func (d *DebugDetector) Observe(ev Event) {
	if ev.FileKey == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	fs := d.files[ev.FileKey]
	if fs == nil {
		fs = &debugFileState{events: newRing(d.cfg.MaxEventsPerFile)}
		d.files[ev.FileKey] = fs
	}

	switch ev.Kind {
	case KindDebugEvent:
		fs.events.append(ev)
	case KindDiagnosticError, KindTerminalError:
		if ev.TSMs > fs.lastErrorMS {
			fs.lastErrorMS = ev.TSMs
		}
	}
}

func (d *DebugDetector) Evaluate(fileKey string, now time.Time) (Signal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fs := d.files[fileKey]
	if fs == nil {
		return Signal{}, false
	}

	nowMS := now.UnixMilli()
	fs.events.prune(nowMS - d.cfg.WindowMS)
	changes := fs.events.len()
	if changes == 0 {
		return Signal{}, false
	}

	ratio := float64(changes) / float64(d.cfg.DebugChangeThreshold)
	// Debugging right after an error weighs heavier than idle breakpoint
	// housekeeping.
	if fs.lastErrorMS > 0 && nowMS-fs.lastErrorMS <= d.cfg.WindowMS {
		ratio *= 1.5
	}
	score := smoothstep(ratio)

	return Signal{
		Type:     TypeDebug,
		Score:    score,
		WindowMS: d.cfg.WindowMS,
		Metadata: map[string]any{"breakpointChanges": changes},
	}, true
}

// Reset clears per-file state after a trigger is accepted.
func (d *DebugDetector) Reset(fileKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, fileKey)
}
