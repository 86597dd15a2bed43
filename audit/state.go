package audit

// Severity levels for violations.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Violation is one finding from the rule scan.
type Violation struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Excerpt   string `json:"excerpt"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	// FilterNote records why an ambiguous finding survived filtering, for
	// example when the filter call itself failed.
	FilterNote string `json:"filter_note,omitempty"`
}

// State is the audit workflow's accumulated channel state.
type State struct {
	Diff       string      `json:"diff"`
	Files      []FileDiff  `json:"files,omitempty"`
	Context    string      `json:"context,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	// Confirmed is the post-filter violation list; nil until filtering ran.
	Confirmed []Violation `json:"confirmed,omitempty"`
	Filtered  int         `json:"filtered,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Reduce merges a node's patch into the accumulated state.
func Reduce(prev, delta State) State {
	out := prev
	if delta.Diff != "" {
		out.Diff = delta.Diff
	}
	if len(delta.Files) > 0 {
		out.Files = delta.Files
	}
	if delta.Context != "" {
		out.Context = delta.Context
	}
	if len(delta.Violations) > 0 {
		out.Violations = delta.Violations
	}
	if delta.Confirmed != nil {
		out.Confirmed = delta.Confirmed
	}
	if delta.Filtered > 0 {
		out.Filtered = delta.Filtered
	}
	if delta.Error != "" {
		out.Error = delta.Error
	}
	return out
}

// Channels splits state into the blob channels persisted per checkpoint.
func Channels(s State) map[string]any {
	return map[string]any{
		"inputs": map[string]any{"diff": s.Diff},
		"intermediate": map[string]any{
			"files":      s.Files,
			"context":    s.Context,
			"violations": s.Violations,
		},
		"outputs": map[string]any{
			"confirmed": s.Confirmed,
			"filtered":  s.Filtered,
			"error":     s.Error,
		},
	}
}
