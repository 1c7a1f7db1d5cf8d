package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. Leading dots are dropped so the result is never
// hidden or a relative path element.
func SanitizeFileName(name string) string {
	name = CleanLabel(name, 0)
	name = strings.TrimSpace(fileNameReplacer.Replace(name))
	return strings.TrimLeft(name, ".")
}

// CleanLabel normalizes free text for display: NFC form, control characters
// dropped, runs of whitespace collapsed to one space, trimmed. A positive
// maxRunes truncates the result.
func CleanLabel(value string, maxRunes int) string {
	value = norm.NFC.String(value)
	var b strings.Builder
	b.Grow(len(value))
	space := false
	runes := 0
	for _, r := range value {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		}
		if maxRunes > 0 && runes >= maxRunes {
			break
		}
		if space {
			b.WriteByte(' ')
			runes++
			space = false
			if maxRunes > 0 && runes >= maxRunes {
				break
			}
		}
		b.WriteRune(r)
		runes++
	}
	return strings.TrimSpace(b.String())
}
