package assetname

import "strings"

// Sanitize replaces every rune outside [A-Za-z0-9-_~.] with '_'. The mapping
// is rune for rune: length here means rune count, not bytes or UTF-16 code
// units, so "emoji😀" becomes "emoji_" and an invalid UTF-8 byte becomes one
// '_'. Applying it twice is the same as applying it once.
func Sanitize(s string) string {
	if isSafe(s) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if safeRune(r) {
			return r
		}
		return '_'
	}, s)
}

func isSafe(s string) bool {
	for _, r := range s {
		if !safeRune(r) {
			return false
		}
	}
	return true
}

func safeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '~', r == '.':
		return true
	}
	return false
}
