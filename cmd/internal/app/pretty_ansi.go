package app

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	prettyDefaultWidth = 100
	prettyMinWidth     = 40
)

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case http.MethodGet:
		return ansiGreen + method + ansiReset
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return ansiYellow + method + ansiReset
	case http.MethodDelete:
		return ansiRed + method + ansiReset
	default:
		return ansiBlue + method + ansiReset
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	switch {
	case status >= 500:
		return ansiRed + s + ansiReset
	case status >= 400:
		return ansiYellow + s + ansiReset
	case status >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	default:
		return ansiGreen + class + ansiReset
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 250:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "server_error":
		return ansiRed + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	default:
		return ansiGreen + result + ansiReset
	}
}

// stripANSI removes CSI escape sequences.
func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && !isFinalCSIByte(s[j]) {
				j++
			}
			if j < len(s) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isFinalCSIByte(c byte) bool {
	return c >= 0x40 && c <= 0x7e
}

// visualLen is the on-screen rune count, ignoring ANSI escapes.
func visualLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// wrapSegments packs segments onto lines no wider than width. Continuation
// lines are prefixed; a single segment that cannot fit is truncated with an
// ellipsis rather than overflowing.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	if width <= 0 {
		width = prettyDefaultWidth
	}

	var lines []string
	var cur strings.Builder
	curVis := 0

	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curVis = 0
		}
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		prefix := ""
		if len(lines) > 0 || cur.Len() > 0 {
			prefix = contPrefix
		}

		segVis := visualLen(seg)

		if cur.Len() == 0 {
			avail := width - visualLen(prefix)
			if segVis > avail {
				seg = truncateVisual(seg, avail)
				segVis = visualLen(seg)
			}
			cur.WriteString(prefix)
			cur.WriteString(seg)
			curVis = visualLen(prefix) + segVis
			continue
		}

		if curVis+visualLen(sep)+segVis <= width {
			cur.WriteString(sep)
			cur.WriteString(seg)
			curVis += visualLen(sep) + segVis
			continue
		}

		flush()
		avail := width - visualLen(contPrefix)
		if segVis > avail {
			seg = truncateVisual(seg, avail)
		}
		cur.WriteString(contPrefix)
		cur.WriteString(seg)
		curVis = visualLen(contPrefix) + visualLen(seg)
	}
	flush()

	return lines
}

// truncateVisual cuts s to at most max visible runes, ending with an
// ellipsis. ANSI escapes are preserved and closed with a reset.
func truncateVisual(s string, max int) string {
	if max <= 1 {
		return "…"
	}
	if visualLen(s) <= max {
		return s
	}

	var b strings.Builder
	visible := 0
	hadANSI := false
	for i := 0; i < len(s) && visible < max-1; {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && !isFinalCSIByte(s[j]) {
				j++
			}
			if j < len(s) {
				j++
			}
			b.WriteString(s[i:j])
			hadANSI = true
			i = j
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		visible++
		i += size
	}
	if hadANSI {
		b.WriteString(ansiReset)
	}
	b.WriteString("…")
	return b.String()
}

// terminalWidth picks the wrap width: explicit override, then COLUMNS, then
// a fixed default. Widths below the minimum are ignored.
func (h *prettyHandler) terminalWidth() int {
	if w, ok := envWidth("BASTION_LOG_WIDTH"); ok {
		return w
	}
	if w, ok := envWidth("COLUMNS"); ok {
		return w
	}
	return prettyDefaultWidth
}

func envWidth(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < prettyMinWidth {
		return 0, false
	}
	return n, true
}
