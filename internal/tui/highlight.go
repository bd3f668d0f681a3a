package tui

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	quotedQuery = regexp.MustCompile(`^"([\s\S]*)"$`)
	regexQuery  = regexp.MustCompile(`^/(.*)/([a-z]*)$`)
)

// queryPattern turns a search query into the pattern used to mark matches.
// A query wrapped in double quotes is one phrase; /pattern/flags is a
// regular expression (i, m and s are honoured, i is the default); anything
// else matches each whitespace separated term. Matching ignores case unless
// a regular expression says otherwise. It returns nil when nothing should
// be marked.
func queryPattern(q string) *regexp.Regexp {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}

	if m := quotedQuery.FindStringSubmatch(q); m != nil {
		if m[1] == "" {
			return nil
		}
		return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(m[1]))
	}

	if m := regexQuery.FindStringSubmatch(q); m != nil && m[1] != "" {
		flags := ""
		for _, f := range "ims" {
			if strings.ContainsRune(m[2], f) {
				flags += string(f)
			}
		}
		if flags == "" {
			flags = "i"
		}
		if re, err := regexp.Compile("(?" + flags + ")" + m[1]); err == nil {
			return re
		}
	}

	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(terms, "|") + `)`)
}

type segment struct {
	text string
	hit  bool
}

// splitMatches cuts text into alternating runs of matched and unmatched
// text. Empty matches are skipped.
func splitMatches(text string, re *regexp.Regexp) []segment {
	if re == nil || text == "" {
		return []segment{{text: text}}
	}

	var out []segment
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] == loc[1] {
			continue
		}
		if loc[0] > last {
			out = append(out, segment{text: text[last:loc[0]]})
		}
		out = append(out, segment{text: text[loc[0]:loc[1]], hit: true})
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, segment{text: text[last:]})
	}
	return out
}

func highlight(text string, re *regexp.Regexp, base lipgloss.Style) string {
	var b strings.Builder
	for _, s := range splitMatches(text, re) {
		if s.hit {
			b.WriteString(markStyle.Render(s.text))
		} else {
			b.WriteString(base.Render(s.text))
		}
	}
	return b.String()
}
