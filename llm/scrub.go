package llm

import (
	"regexp"
	"strings"
)

// RedactionMarker replaces scrubbed spans. Prompts containing it are never
// cached: the same original prompt could scrub differently as rules evolve,
// and a cached redacted response is useless anyway.
const RedactionMarker = "[REDACTED]"

var scrubPatterns = []*regexp.Regexp{
	// API keys and tokens.
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
	// Key/secret/password assignments.
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token)\s*[:=]{1,2}\s*['"]?[^\s'"]{6,}['"]?`),
	// Email addresses.
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	// Private key blocks.
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// Scrub removes secrets and PII from a prompt before it reaches a provider.
func Scrub(prompt string) string {
	for _, p := range scrubPatterns {
		prompt = p.ReplaceAllString(prompt, RedactionMarker)
	}
	return prompt
}

// WasScrubbed reports whether scrubbing altered the prompt.
func WasScrubbed(prompt string) bool {
	return strings.Contains(prompt, RedactionMarker)
}
