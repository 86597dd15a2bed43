// Package signal turns raw editor events into typed, scored struggle signals
// and fuses them into trigger decisions.
package signal

// EventKind identifies the source of a raw editor event.
type EventKind string

const (
	KindEdit            EventKind = "edit"
	KindUndo            EventKind = "undo"
	KindRedo            EventKind = "redo"
	KindDiagnosticError EventKind = "diagnostic_error"
	KindTerminalError   EventKind = "terminal_error"
	KindDebugEvent      EventKind = "debug_event"
	KindHesitation      EventKind = "hesitation"
)

// Event is one immutable raw observation from the editor.
type Event struct {
	TSMs    int64     `json:"ts_ms"`
	FileKey string    `json:"file_key"`
	Kind    EventKind `json:"kind"`
	Payload string    `json:"payload,omitempty"`
	Line    int       `json:"line,omitempty"`
}

// Signal type names. These double as aggregation weight keys.
const (
	TypeEditPattern = "edit_pattern"
	TypeUndoRedo    = "undo_redo"
	TypeTimePattern = "time_pattern"
	TypeTerminal    = "terminal"
	TypeDebug       = "debug"
	TypeSemantic    = "semantic"
)

// Signal is a scored per-type summary over the active window.
type Signal struct {
	Type     string         `json:"type"`
	Score    float64        `json:"score"`
	WindowMS int64          `json:"window_ms"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// errorBearing reports whether a signal type derives from observed errors.
// Error-bearing signals win primary-signal tie-breaks against edit patterns.
func errorBearing(signalType string) bool {
	return signalType == TypeTerminal || signalType == TypeDebug
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// smoothstep maps [0,1] onto [0,1] with zero slope at both ends, damping
// scores near the threshold boundaries. Inputs outside [0,1] clamp.
func smoothstep(x float64) float64 {
	x = clamp01(x)
	return x * x * (3 - 2*x)
}
