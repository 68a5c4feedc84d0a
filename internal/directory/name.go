package directory

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var ErrInvalidName = errors.New("directory: invalid user name")

const maxNameBytes = 255

// invalidNameChars may not appear anywhere in an account name.
const invalidNameChars = "#<>[]|{}@:"

// CanonicalName normalizes a candidate account name the way the directory
// stores it, or reports ErrInvalidName when the candidate cannot be used.
//
// Normalization is NFC, underscores read as spaces, runs of spaces collapse,
// and the first letter is upper-cased.
func CanonicalName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", ErrInvalidName
	}

	for _, r := range name {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return "", ErrInvalidName
		}
	}

	s := norm.NFC.String(name)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Join(strings.Fields(s), " ")

	if s == "" || len(s) > maxNameBytes {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(s, invalidNameChars) || strings.Contains(s, "~~~") {
		return "", ErrInvalidName
	}
	if relativePath(s) {
		return "", ErrInvalidName
	}

	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:], nil
}

func relativePath(s string) bool {
	switch {
	case s == "." || s == "..":
		return true
	case strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../"):
		return true
	case strings.Contains(s, "/./") || strings.Contains(s, "/../"):
		return true
	case strings.HasSuffix(s, "/.") || strings.HasSuffix(s, "/.."):
		return true
	}
	return false
}
