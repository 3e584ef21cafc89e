// internal/console/matcher.go
package console

import (
	"bytes"
	"regexp"
	"strings"
)

// Pattern is one candidate anchor for Await: either an exact substring
// or a compiled regular expression.
type Pattern struct {
	text string
	re   *regexp.Regexp
}

// Text matches an exact substring.
func Text(s string) Pattern {
	return Pattern{text: s}
}

// Regex matches a regular expression. The expression must be valid;
// anchors are part of the program, not runtime input.
func Regex(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

func (p Pattern) String() string {
	if p.re != nil {
		return p.re.String()
	}
	return p.text
}

// FirstMatch finds the earliest occurrence of any pattern in buf.
// Ties at the same byte position go to the lower pattern index.
// Returns the pattern index and the [start,end) span of the match.
func FirstMatch(buf []byte, patterns []Pattern) (idx, start, end int, ok bool) {
	start = -1

	for i, p := range patterns {
		var s, e int

		if p.re != nil {
			loc := p.re.FindIndex(buf)
			if loc == nil {
				continue
			}
			s, e = loc[0], loc[1]
		} else {
			s = bytes.Index(buf, []byte(p.text))
			if s < 0 {
				continue
			}
			e = s + len(p.text)
		}

		if start < 0 || s < start {
			idx, start, end = i, s, e
			ok = true
		}
	}

	return idx, start, end, ok
}

func describe(patterns []Pattern) string {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = p.String()
	}
	return strings.Join(parts, " | ")
}
