// Package textnorm reduces free text to an ASCII-comparable token string.
//
// Normalization trims, lower-cases, strips diacritics and collapses anything
// that is not a letter or digit into single spaces, so that "Início",
// " inicio " and "INÍCIO!" all compare equal.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes, drops combining marks and recomposes.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize returns the canonical token string for s.
func Normalize(s string) string {
	s = stripMarks(strings.ToLower(strings.TrimSpace(s)))

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
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

// Tokens splits the normalized form of s into words.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// Slug returns a file-name-safe form of s: normalized words joined by '-',
// cut to at most max bytes. Empty input yields "file".
func Slug(s string, max int) string {
	slug := strings.Join(Tokens(s), "-")
	if max > 0 && len(slug) > max {
		slug = strings.TrimRight(slug[:max], "-")
	}
	if slug == "" {
		return "file"
	}
	return slug
}
