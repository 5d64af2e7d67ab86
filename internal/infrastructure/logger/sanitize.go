package logger

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SanitizeForLog escapes control characters so subprocess output and user
// supplied identifiers cannot forge log lines or drive the terminal.
// Printable unicode is kept as is.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\x00':
			b.WriteString("\\x00")
		default:
			if r < 32 || r == 127 {
				fmt.Fprintf(&b, "\\x%02x", r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// Tail returns the sanitized last max bytes of s, cut on a rune boundary.
// Compiler stderr can be large; only its end usually matters.
func Tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 && len(s) > max {
		cut := len(s) - max
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = "..." + s[cut:]
	}
	return SanitizeForLog(s)
}
