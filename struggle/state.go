// Package struggle runs the struggle-detection workflow: decide whether a
// developer is stuck, optionally retrieve supporting knowledge, and generate
// a lesson recommendation.
package struggle

import "github.com/dshills/aura-go/retrieval"

// Inputs is the trigger payload the workflow starts from. It is immutable
// for the lifetime of a thread.
type Inputs struct {
	FileKey                string   `json:"file_key"`
	FilePath               string   `json:"file_path,omitempty"`
	LanguageID             string   `json:"language_id,omitempty"`
	CodeSnippet            string   `json:"code_snippet,omitempty"`
	Source                 string   `json:"source,omitempty"`
	ClientTimestamp        string   `json:"client_timestamp,omitempty"`
	EditFrequency          float64  `json:"edit_frequency"`
	ErrorLogs              []string `json:"error_logs,omitempty"`
	History                []string `json:"history,omitempty"`
	StruggleReason         string   `json:"struggle_reason,omitempty"`
	RetryCount             int      `json:"retry_count,omitempty"`
	CombinedScore          float64  `json:"combined_score,omitempty"`
	PrimarySignal          string   `json:"primary_signal,omitempty"`
	UndoRedoPattern        string   `json:"undo_redo_pattern,omitempty"`
	HesitationMs           int64    `json:"hesitation_ms,omitempty"`
	TerminalErrors         []string `json:"terminal_errors,omitempty"`
	DebugBreakpointChanges int      `json:"debug_breakpoint_changes,omitempty"`
}

// State is the workflow's accumulated channel state.
type State struct {
	Inputs               Inputs               `json:"inputs"`
	IsStruggling         bool                 `json:"is_struggling"`
	RAGContext           string               `json:"rag_context,omitempty"`
	Citations            []retrieval.Citation `json:"citations,omitempty"`
	LessonRecommendation string               `json:"lesson_recommendation,omitempty"`
	Error                string               `json:"error,omitempty"`
}

// Reduce merges a node's patch into the accumulated state. Inputs are set
// once at thread start and only replaced by a delta that carries a file key.
func Reduce(prev, delta State) State {
	out := prev
	if delta.Inputs.FileKey != "" {
		out.Inputs = delta.Inputs
	}
	out.IsStruggling = prev.IsStruggling || delta.IsStruggling
	if delta.RAGContext != "" {
		out.RAGContext = delta.RAGContext
	}
	if len(delta.Citations) > 0 {
		out.Citations = delta.Citations
	}
	if delta.LessonRecommendation != "" {
		out.LessonRecommendation = delta.LessonRecommendation
	}
	if delta.Error != "" {
		out.Error = delta.Error
	}
	return out
}

// Channels splits state into the blob channels persisted per checkpoint.
func Channels(s State) map[string]any {
	return map[string]any{
		"inputs": s.Inputs,
		"intermediate": map[string]any{
			"is_struggling": s.IsStruggling,
			"rag_context":   s.RAGContext,
			"citations":     s.Citations,
		},
		"outputs": map[string]any{
			"lesson_recommendation": s.LessonRecommendation,
			"error":                 s.Error,
		},
	}
}
