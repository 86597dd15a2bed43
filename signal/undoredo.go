package signal

import (
	"sync"
	"time"
)

// Undo/redo sequence classifications.
const (
	PatternThrash  = "thrash"
	PatternRevert  = "revert"
	PatternExplore = "explore"
)

// UndoRedoDetector classifies undo/redo sequences. Alternating undo and redo
// is thrash, sustained undo is revert, redo following undo is explore.
type UndoRedoDetector struct {
	cfg Config

	mu    sync.Mutex
	files map[string]*ring
}

func NewUndoRedoDetector(cfg Config) *UndoRedoDetector {
	return &UndoRedoDetector{cfg: cfg, files: make(map[string]*ring)}
}

func (d *UndoRedoDetector) Observe(ev Event) {
	if (ev.Kind != KindUndo && ev.Kind != KindRedo) || ev.FileKey == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.files[ev.FileKey]
	if r == nil {
		r = newRing(d.cfg.MaxEventsPerFile)
		d.files[ev.FileKey] = r
	}
	r.append(ev)
}

func (d *UndoRedoDetector) Evaluate(fileKey string, now time.Time) (Signal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.files[fileKey]
	if r == nil {
		return Signal{}, false
	}
	r.prune(now.UnixMilli() - d.cfg.WindowMS)
	events := r.all()
	if len(events) < 2 {
		return Signal{}, false
	}

	undos, redos, alternations := 0, 0, 0
	for i, ev := range events {
		if ev.Kind == KindUndo {
			undos++
		} else {
			redos++
		}
		if i > 0 && ev.Kind != events[i-1].Kind {
			alternations++
		}
	}

	pattern := classifySequence(len(events), undos, redos, alternations)

	// Density within the window drives the score: a burst of undo/redo at
	// the event-frequency threshold saturates it.
	windowMin := float64(d.cfg.WindowMS) / 60_000
	perMin := float64(len(events)) / windowMin
	score := smoothstep(perMin / d.cfg.EditFrequencyThresholdPerMin)

	ratio := 0.0
	if redos > 0 {
		ratio = float64(undos) / float64(redos)
	} else {
		ratio = float64(undos)
	}

	return Signal{
		Type:     TypeUndoRedo,
		Score:    score,
		WindowMS: d.cfg.WindowMS,
		Metadata: map[string]any{
			"pattern": pattern,
			"ratio":   ratio,
		},
	}, true
}

// Reset clears per-file state after a trigger is accepted.
func (d *UndoRedoDetector) Reset(fileKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, fileKey)
}

func classifySequence(total, undos, redos, alternations int) string {
	switch {
	case alternations*2 >= total:
		return PatternThrash
	case undos*4 >= total*3:
		return PatternRevert
	default:
		return PatternExplore
	}
}
