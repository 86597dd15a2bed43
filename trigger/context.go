// Package trigger bridges aggregated struggle decisions to the workflow
// runtime: it assembles the submission payload under the user's privacy
// settings, coalesces triggers per file and epoch window, and tracks
// per-file feedback state.
package trigger

import (
	"strings"
	"time"
)

// Privacy controls which context fields leave the editor.
type Privacy struct {
	SendCodeSnippet bool `mapstructure:"send_code_snippet"`
	SendFilePath    bool `mapstructure:"send_file_path"`
}

// Config tunes the bridge.
type Config struct {
	// EpochWindow is the coalescing bucket: triggers for the same file within
	// one window share a thread.
	EpochWindow time.Duration `mapstructure:"epoch_window"`

	// SnippetRadius is the number of lines included on each side of the
	// struggle line.
	SnippetRadius int `mapstructure:"snippet_radius"`

	// MaxSnippetChars truncates the assembled snippet.
	MaxSnippetChars int `mapstructure:"max_snippet_chars"`

	Privacy Privacy `mapstructure:"privacy"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EpochWindow:     time.Minute,
		SnippetRadius:   2,
		MaxSnippetChars: 300,
		Privacy:         Privacy{SendCodeSnippet: true, SendFilePath: true},
	}
}

// Context is the struggle context assembled alongside a decision.
type Context struct {
	FileKey           string   `json:"file_key"`
	FilePath          string   `json:"file_path,omitempty"`
	LanguageID        string   `json:"language_id,omitempty"`
	Snippet           string   `json:"snippet,omitempty"`
	Line              int      `json:"line,omitempty"`
	DiagnosticsErrors []string `json:"diagnostics_errors,omitempty"`
}

// BuildContext assembles a Context from the file content around the struggle
// line. Privacy flags are applied later at submission; this keeps the full
// detail locally.
func BuildContext(cfg Config, fileKey, filePath, languageID, fileText string, line int, diags []string) Context {
	return Context{
		FileKey:           fileKey,
		FilePath:          filePath,
		LanguageID:        languageID,
		Snippet:           snippetAround(fileText, line, cfg.SnippetRadius, cfg.MaxSnippetChars),
		Line:              line,
		DiagnosticsErrors: diags,
	}
}

// snippetAround extracts lines [line-radius, line+radius] (1-based) and
// truncates to maxChars.
func snippetAround(text string, line, radius, maxChars int) string {
	if text == "" || line < 1 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if line > len(lines) {
		line = len(lines)
	}

	start := line - 1 - radius
	if start < 0 {
		start = 0
	}
	end := line + radius
	if end > len(lines) {
		end = len(lines)
	}

	snippet := strings.Join(lines[start:end], "\n")
	if maxChars > 0 && len(snippet) > maxChars {
		snippet = snippet[:maxChars]
	}
	return snippet
}
