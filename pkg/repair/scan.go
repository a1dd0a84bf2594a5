package repair

import (
	"fmt"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")

// Extract trims raw model output down to the first balanced JSON object,
// dropping markdown code fences and any prose around it.
func Extract(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		// already bare JSON
	} else if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	if end := matchBrace(s, start); end >= 0 {
		return s[start : end+1]
	}
	if last := strings.LastIndexByte(s, '}'); last > start {
		return s[start : last+1]
	}
	return s[start:]
}

// matchBrace returns the index of the brace closing s[start], skipping
// braces inside strings, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escapeNext := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escapeNext = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// escapeStrings walks s with a two-flag state machine (inString, escapeNext).
//
// Inside a string: raw control characters are escaped, a backslash that does
// not start a valid escape is doubled, and a quote is treated as the end of
// the string only when the next non-space character is one of , } ] : or the
// end of input; any other quote is escaped.
//
// Outside a string: a comma directly followed by } or ] is dropped.
func escapeStrings(s string) string { return rewriteStrings(s, true) }

// escapeControls is escapeStrings without the stray quote lookahead: every
// unescaped quote toggles the string state.
func escapeControls(s string) string { return rewriteStrings(s, false) }

func rewriteStrings(s string, quoteLookahead bool) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString, escapeNext := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escapeNext {
			b.WriteByte(c)
			escapeNext = false
			continue
		}
		if inString {
			switch {
			case c == '\\':
				if validEscape(s, i) {
					b.WriteByte(c)
					escapeNext = true
				} else {
					b.WriteString(`\\`)
				}
			case c == '"':
				if !quoteLookahead || closesString(s, i+1) {
					inString = false
					b.WriteByte(c)
				} else {
					b.WriteString(`\"`)
				}
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c == '\b':
				b.WriteString(`\b`)
			case c == '\f':
				b.WriteString(`\f`)
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case ',':
			if next := nextNonSpace(s, i+1); next == '}' || next == ']' {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// collapseWhitespace replaces raw newlines, tabs, carriage returns, form feeds
// and vertical tabs outside strings with a single space.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escapeNext := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escapeNext:
			escapeNext = false
		case inString && c == '\\':
			escapeNext = true
		case c == '"':
			inString = !inString
		case !inString && (c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'):
			c = ' '
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeQuoteBefore escapes the closest unescaped quote at or before offset.
// It reports false when there is none.
func escapeQuoteBefore(s string, offset int64) (string, bool) {
	k := int(offset)
	if k > len(s) {
		k = len(s)
	}
	for k--; k >= 0; k-- {
		if s[k] == '"' && !isEscaped(s, k) {
			return s[:k] + `\` + s[k:], true
		}
	}
	return s, false
}

func validEscape(s string, i int) bool {
	if i+1 >= len(s) {
		return false
	}
	switch s[i+1] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+5 >= len(s) {
			return false
		}
		for _, h := range s[i+2 : i+6] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

func closesString(s string, from int) bool {
	switch nextNonSpace(s, from) {
	case 0, ',', '}', ']', ':':
		return true
	}
	return false
}

// nextNonSpace returns the first non-whitespace byte at or after from, or 0.
func nextNonSpace(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return s[i]
	}
	return 0
}

func isEscaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
