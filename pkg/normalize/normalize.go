// Package normalize derives canonical comparison keys from card names.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FaceSeparator is the token that joins face names inside a multi-faced
// card's canonical name ("Fire // Ice").
const FaceSeparator = "//"

// stripMarks decomposes to NFD, drops combining marks, and recomposes,
// turning "Lórien" into "Lorien".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// typographic apostrophe variants folded to a plain ASCII apostrophe.
var apostrophes = map[rune]bool{
	'‘': true, // left single quote
	'’': true, // right single quote
	'ʼ': true, // modifier letter apostrophe
	'`': true, // backtick used as apostrophe in older data

}

// Normalize converts an arbitrary name string into its canonical comparison
// key: lower-cased, diacritics stripped, typographic apostrophes folded,
// everything outside letters/digits/whitespace/apostrophe/hyphen/slash
// removed, and whitespace collapsed. Normalize is idempotent.
func Normalize(input string) string {
	s := strings.ToLower(input)

	if stripped, _, err := transform.String(stripMarks, s); err == nil {
		s = stripped
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case apostrophes[r]:
			b.WriteRune('\'')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r),
			r == '\'' || r == '-' || r == '/':
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// NameVariants returns the normalized full name followed by the normalized
// name of each face when the name embeds a face separator. Duplicates are
// removed preserving first-seen order, so the primary variant is always
// element zero.
func NameVariants(input string) []string {
	primary := Normalize(input)

	variants := []string{primary}
	if strings.Contains(primary, FaceSeparator) {
		seen := map[string]bool{primary: true}
		for _, part := range strings.Split(primary, FaceSeparator) {
			face := strings.TrimSpace(part)
			if face == "" || seen[face] {
				continue
			}
			seen[face] = true
			variants = append(variants, face)
		}
	}
	return variants
}
