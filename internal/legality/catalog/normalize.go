package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldReplacer handles letters that do not decompose into base + mark
var foldReplacer = strings.NewReplacer("ß", "ss", "ẞ", "ss", "æ", "ae", "ø", "o", "œ", "oe")

// Normalize folds case, strips diacritics and collapses every run of
// non-alphanumeric characters into one space.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// transformers keep state, so build a fresh chain per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = foldReplacer.Replace(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Tokens splits a normalized string into its words
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
