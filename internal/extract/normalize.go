// Package extract turns free prescription text into medication entries.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Micro signs are rewritten before folding so that "µg" does not decay to "g".
var microReplacer = strings.NewReplacer("µg", "mcg", "μg", "mcg", "µG", "mcg", "μG", "mcg")

var (
	disallowedRe = regexp.MustCompile(`[^a-zA-Z0-9\s.,/\-]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Normalize folds compatibility characters, strips diacritics, replaces
// anything outside letters, digits, whitespace and ". , / -" with a space
// and collapses runs of whitespace. Normalize is idempotent.
func Normalize(text string) string {
	text = microReplacer.Replace(text)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err == nil {
		text = folded
	}
	text = disallowedRe.ReplaceAllString(text, " ")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
