package sanitize

import (
	"strings"
	"unicode"
)

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Label cleans a short free-text label such as a termination reason:
// control characters are dropped and whitespace runs collapse to one space.
func Label(input string) string {
	fields := strings.Fields(input)
	kept := fields[:0]
	for _, field := range fields {
		if field = StripControlCharacters(field); field != "" {
			kept = append(kept, field)
		}
	}
	return strings.Join(kept, " ")
}

// Token trims a device or bearer token and drops control characters
func Token(input string) string {
	return strings.TrimSpace(StripControlCharacters(input))
}
