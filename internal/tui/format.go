package tui

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const timeLayout = "2006-01-02 15:04"

// shortenPath keeps the root and the last two elements of a long path and
// elides the middle. When that is still too long the raw string is cut in
// the middle instead.
func shortenPath(p string, maxLen int) string {
	if p == "" || maxLen <= 0 || len(p) <= maxLen {
		return p
	}

	sep := "/"
	if strings.Contains(p, `\`) {
		sep = `\`
	}
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		parts = append([]string{""}, parts...)
	}
	if len(parts) <= 2 {
		return truncate(p, maxLen)
	}

	first, beforeLast, last := parts[0], parts[len(parts)-2], parts[len(parts)-1]
	candidate := first + sep + "..." + sep + beforeLast + sep + last
	if len(candidate) <= maxLen {
		return candidate
	}

	keep := maxLen - 3
	head := max(10, keep/2)
	tail := keep - head
	if tail <= 0 || head >= len(p) {
		return truncate(p, maxLen)
	}
	return p[:head] + "..." + p[len(p)-tail:]
}

func formatSize(size *int64) string {
	if size == nil || *size < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(*size))
}

func formatTime(ts *int64) string {
	if ts == nil {
		return "-"
	}
	return time.Unix(*ts, 0).Local().Format(timeLayout)
}

// formatRelative describes ts relative to now for the last 30 days and
// falls back to the absolute time otherwise.
func formatRelative(ts *int64, now time.Time) string {
	if ts == nil {
		return "-"
	}
	t := time.Unix(*ts, 0)
	diff := now.Sub(t)
	switch {
	case diff < 0, diff >= 30*24*time.Hour:
		return formatTime(ts)
	case diff < 5*time.Second:
		return "just now"
	default:
		return humanize.RelTime(t, now, "ago", "from now")
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func wrapText(s string, width, maxLines int) []string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) == 0 {
		return nil
	}

	var lines []string
	for len(s) > 0 && len(lines) < maxLines {
		if len(s) <= width {
			lines = append(lines, s)
			s = ""
			break
		}

		breakAt := width
		for breakAt > width/2 && s[breakAt] != ' ' {
			breakAt--
		}
		if s[breakAt] != ' ' {
			breakAt = width
		}

		lines = append(lines, strings.TrimSpace(s[:breakAt]))
		s = strings.TrimSpace(s[breakAt:])
	}

	if len(s) > 0 && len(lines) == maxLines {
		lastLine := lines[maxLines-1]
		if len(lastLine) > width-3 {
			lastLine = lastLine[:width-3]
		}
		lines[maxLines-1] = lastLine + "..."
	}

	return lines
}
