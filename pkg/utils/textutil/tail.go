// Package textutil holds small text helpers shared by the staging and
// execution layers.
package textutil

import "strings"

// TailLines returns the last n non-empty-trimmed lines of s joined by
// newlines. Diagnostic output captured from subprocesses is unbounded;
// error messages persisted to the store carry only this bounded tail.
func TailLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
