package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds text into the canonical form used for matching: Unicode
// NFKC, case folded, every rune that is not a letter or digit replaced by a
// space, runs of whitespace collapsed.
func Normalize(text string) string {
	// A Caser carries state and must not be shared across goroutines.
	folded := cases.Fold().String(norm.NFKC.String(text))

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Tokens returns the normalized tokens of text.
func Tokens(text string) []string {
	n := Normalize(text)
	if n == "" {
		return nil
	}
	return strings.Split(n, " ")
}
