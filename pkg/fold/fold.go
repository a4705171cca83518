// Package fold strips diacritics so Spanish statement text can be compared
// regardless of accents ("INFORMACIÓN" == "INFORMACION").
package fold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Accents removes combining marks, keeping case
func Accents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Upper returns the accent-free upper-case form
func Upper(s string) string {
	return strings.ToUpper(Accents(s))
}

// Lower returns the accent-free lower-case form
func Lower(s string) string {
	return strings.ToLower(Accents(s))
}
