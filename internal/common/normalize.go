package common

import (
	"strings"
	"unicode"
)

// NormalizeText folds a raw description or merchant string into the
// normalized-token form shared by keyword-era rule matching and the
// auto-learn miner: lowercase, punctuation replaced by spaces, runs of
// whitespace collapsed to a single space.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}
