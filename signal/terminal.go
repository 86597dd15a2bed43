package signal

import (
	"regexp"
	"sync"
	"time"
)

// errorLinePattern matches the common shapes of failure output: exception
// traces, compiler error prefixes, non-zero exit reports.
var errorLinePattern = regexp.MustCompile(`(?i)\b(error|exception|traceback|panic|fatal|failed|cannot find|undefined|unexpected)\b|exit (status|code) [1-9]|^\s*at\s+\S+\(`)

// TerminalDetector consumes terminal output lines and diagnostics, counting
// error-looking lines and keeping exemplar messages.
type TerminalDetector struct {
	cfg Config

	mu    sync.Mutex
	files map[string]*ring
}

func NewTerminalDetector(cfg Config) *TerminalDetector {
	return &TerminalDetector{cfg: cfg, files: make(map[string]*ring)}
}

func (d *TerminalDetector) Observe(ev Event) {
	if ev.FileKey == "" {
		return
	}
	switch ev.Kind {
	case KindTerminalError, KindDiagnosticError:
	default:
		return
	}
	// Terminal lines are pre-filtered; raw lines without error tokens are
	// dropped so command echo does not inflate the count.
	if ev.Kind == KindTerminalError && ev.Payload != "" && !errorLinePattern.MatchString(ev.Payload) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.files[ev.FileKey]
	if r == nil {
		r = newRing(d.cfg.MaxErrorsPerFile)
		d.files[ev.FileKey] = r
	}
	r.append(ev)
}

func (d *TerminalDetector) Evaluate(fileKey string, now time.Time) (Signal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.files[fileKey]
	if r == nil {
		return Signal{}, false
	}
	r.prune(now.UnixMilli() - d.cfg.WindowMS)
	events := r.all()
	if len(events) == 0 {
		return Signal{}, false
	}

	exemplars := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Payload != "" {
			exemplars = append(exemplars, ev.Payload)
		}
	}

	score := smoothstep(float64(len(events)) / float64(d.cfg.ErrorCountThreshold))

	return Signal{
		Type:     TypeTerminal,
		Score:    score,
		WindowMS: d.cfg.WindowMS,
		Metadata: map[string]any{
			"errorCount":     len(events),
			"terminalErrors": exemplars,
		},
	}, true
}

// Reset clears per-file state after a trigger is accepted.
func (d *TerminalDetector) Reset(fileKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, fileKey)
}
