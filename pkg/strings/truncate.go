// Package strings holds string helpers shared by the command output.
package strings

import (
	"strings"
)

// DefaultCellMaxLen is the widest a free-text table cell is printed.
const DefaultCellMaxLen = 40

// MinTruncateLen leaves room for one character plus "...".
const MinTruncateLen = 4

// Truncate collapses whitespace in s to single spaces and cuts the result
// to maxLen runes, ending it with "..." when cut. maxLen below
// MinTruncateLen is raised to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
