// Package audit runs the code-audit workflow over a unified diff: parse,
// enrich, classify rule violations, and filter false positives through the
// LLM layer.
package audit

import (
	"strconv"
	"strings"

	"github.com/dshills/aura-go/fault"
)

// Line is one diff line with its operation.
type Line struct {
	Op   byte   `json:"op"` // '+', '-', or ' '
	Text string `json:"text"`
	// NewNum is the line number in the new file; 0 for removed lines.
	NewNum int `json:"new_num,omitempty"`
}

// Hunk is one @@ block.
type Hunk struct {
	OldStart int    `json:"old_start"`
	NewStart int    `json:"new_start"`
	Lines    []Line `json:"lines"`
}

// FileDiff is the parsed diff for one file.
type FileDiff struct {
	Path  string `json:"path"`
	Hunks []Hunk `json:"hunks"`
}

// Added returns the added lines across all hunks.
func (f FileDiff) Added() []Line {
	var out []Line
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Op == '+' {
				out = append(out, l)
			}
		}
	}
	return out
}

// ParseUnifiedDiff parses git-style unified diff text. Unknown header lines
// are skipped; a diff with no file sections is an input error.
func ParseUnifiedDiff(diff string) ([]FileDiff, error) {
	var (
		files   []FileDiff
		current *FileDiff
		hunk    *Hunk
		newLine int
	)

	flushHunk := func() {
		if current != nil && hunk != nil {
			current.Hunks = append(current.Hunks, *hunk)
			hunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if current != nil {
			files = append(files, *current)
			current = nil
		}
	}

	for _, raw := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(raw, "diff --git "):
			flushFile()
			current = &FileDiff{Path: pathFromGitHeader(raw)}

		case strings.HasPrefix(raw, "+++ "):
			p := strings.TrimPrefix(raw, "+++ ")
			p = strings.TrimPrefix(p, "b/")
			if p != "/dev/null" {
				if current == nil {
					current = &FileDiff{}
				}
				current.Path = p
			}

		case strings.HasPrefix(raw, "@@"):
			if current == nil {
				return nil, fault.New(fault.KindInvalidInput, "hunk header before file header")
			}
			flushHunk()
			oldStart, newStart, err := parseHunkHeader(raw)
			if err != nil {
				return nil, err
			}
			hunk = &Hunk{OldStart: oldStart, NewStart: newStart}
			newLine = newStart

		case hunk != nil && len(raw) > 0 && (raw[0] == '+' || raw[0] == '-' || raw[0] == ' '):
			l := Line{Op: raw[0], Text: raw[1:]}
			if raw[0] != '-' {
				l.NewNum = newLine
				newLine++
			}
			hunk.Lines = append(hunk.Lines, l)
		}
	}
	flushFile()

	if len(files) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "no file sections in diff")
	}
	return files, nil
}

func pathFromGitHeader(line string) string {
	// "diff --git a/x/y.go b/x/y.go" — take the b/ side.
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimPrefix(fields[3], "b/")
}

func parseHunkHeader(line string) (int, int, error) {
	// "@@ -12,4 +15,6 @@ optional context"
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return 0, 0, fault.New(fault.KindInvalidInput, "malformed hunk header: %s", line)
	}
	oldStart, err := hunkStart(parts[1], '-')
	if err != nil {
		return 0, 0, err
	}
	newStart, err := hunkStart(parts[2], '+')
	if err != nil {
		return 0, 0, err
	}
	return oldStart, newStart, nil
}

func hunkStart(field string, sign byte) (int, error) {
	if len(field) < 2 || field[0] != sign {
		return 0, fault.New(fault.KindInvalidInput, "malformed hunk range: %s", field)
	}
	numStr := field[1:]
	if ix := strings.IndexByte(numStr, ','); ix >= 0 {
		numStr = numStr[:ix]
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fault.New(fault.KindInvalidInput, "malformed hunk range: %s", field)
	}
	return n, nil
}
