package util

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeLenient turns raw peer bytes into a trimmed string. Invalid UTF-8
// sequences become U+FFFD; the input is never rejected.
func DecodeLenient(raw []byte) string {
	if utf8.Valid(raw) {
		return strings.TrimSpace(string(raw))
	}
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), raw)
	if err != nil {
		return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
	}
	return strings.TrimSpace(string(out))
}
