package signal

import (
	"sync"
	"time"
)

// TimePatternDetector flags long hesitations after errors: an inter-edit gap
// above the threshold while recent errors are present suggests the developer
// is stuck rather than thinking through a refactor.
type TimePatternDetector struct {
	cfg Config

	mu    sync.Mutex
	files map[string]*timeFileState
}

type timeFileState struct {
	lastEditMS  int64
	lastErrorMS int64
}

func NewTimePatternDetector(cfg Config) *TimePatternDetector {
	return &TimePatternDetector{cfg: cfg, files: make(map[string]*timeFileState)}
}

func (d *TimePatternDetector) Observe(ev Event) {
	if ev.FileKey == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	fs := d.files[ev.FileKey]
	if fs == nil {
		fs = &timeFileState{}
		d.files[ev.FileKey] = fs
	}

	switch ev.Kind {
	case KindEdit, KindUndo, KindRedo:
		if ev.TSMs > fs.lastEditMS {
			fs.lastEditMS = ev.TSMs
		}
	case KindDiagnosticError, KindTerminalError:
		if ev.TSMs > fs.lastErrorMS {
			fs.lastErrorMS = ev.TSMs
		}
	case KindHesitation:
		// Explicit hesitation reports from the client count as a stale edit.
		if ev.TSMs > fs.lastEditMS {
			fs.lastEditMS = ev.TSMs - d.cfg.HesitationThresholdMS
		}
	}
}

func (d *TimePatternDetector) Evaluate(fileKey string, now time.Time) (Signal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fs := d.files[fileKey]
	if fs == nil || fs.lastEditMS == 0 {
		return Signal{}, false
	}

	nowMS := now.UnixMilli()
	errorsRecent := fs.lastErrorMS > 0 && nowMS-fs.lastErrorMS <= d.cfg.WindowMS
	hesitationMS := nowMS - fs.lastEditMS
	if hesitationMS < d.cfg.HesitationThresholdMS || !errorsRecent {
		return Signal{}, false
	}

	// Saturates at twice the threshold: hesitating 90s on a 45s threshold
	// is as stuck as it gets.
	score := smoothstep(float64(hesitationMS) / float64(2*d.cfg.HesitationThresholdMS))

	return Signal{
		Type:     TypeTimePattern,
		Score:    score,
		WindowMS: d.cfg.WindowMS,
		Metadata: map[string]any{"hesitationMs": hesitationMS},
	}, true
}

// Reset clears per-file state after a trigger is accepted.
func (d *TimePatternDetector) Reset(fileKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, fileKey)
}
