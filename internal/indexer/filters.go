package indexer

import (
	"strings"
	"unicode"
)

var textLikeExts = map[string]bool{
	"txt": true, "md": true, "csv": true, "log": true, "json": true,
	"xml": true, "ini": true, "conf": true, "yaml": true, "yml": true,
}

// IsTextLike reports whether files with this extension get their content
// parsed.
func IsTextLike(ext string) bool {
	return textLikeExts[strings.ToLower(ext)]
}

// Tokenize splits s into lower-cased runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TermFrequencies counts the tokens of every text.
func TermFrequencies(texts ...string) map[string]int {
	tf := make(map[string]int)
	for _, text := range texts {
		for _, tok := range Tokenize(text) {
			tf[tok]++
		}
	}
	return tf
}
