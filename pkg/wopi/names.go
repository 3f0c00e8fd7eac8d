package wopi

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNameLength is the longest file name, in characters, the host stores.
const MaxNameLength = 255

// reservedChars may not appear in a file name.
const reservedChars = `<>:"/\|?*`

// ErrInvalidName is returned for file names the host refuses to store.
var ErrInvalidName = errors.New("invalid file name")

// ValidateName checks a target name supplied by the editor. The name is not
// rewritten; callers store it as given.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrInvalidName)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, reservedChars) {
		return fmt.Errorf("%w: name must not contain any of %s: %q", ErrInvalidName, reservedChars, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name must not contain control characters: %q", ErrInvalidName, name)
		}
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("%w: name is %d characters, limit is %d", ErrInvalidName, n, MaxNameLength)
	}
	return nil
}

// SuggestedName resolves a suggested target against the source file name. A
// suggestion starting with "." replaces the extension of source; anything
// else is a full name. The result is cut to MaxNameLength keeping the
// extension, and stripped of characters ValidateName would refuse.
func SuggestedName(source, suggested string) string {
	suggested = norm.NFC.String(suggested)

	name := suggested
	if strings.HasPrefix(suggested, ".") {
		name = strings.TrimSuffix(source, path.Ext(source)) + suggested
	}
	return TruncateName(sanitize(name), MaxNameLength)
}

// TruncateName shortens name to at most limit characters, keeping its
// extension whenever the extension itself fits.
func TruncateName(name string, limit int) string {
	runes := []rune(name)
	if len(runes) <= limit {
		return name
	}

	ext := []rune(path.Ext(name))
	if len(ext) >= limit || len(ext) == len(runes) {
		return string(runes[:limit])
	}
	base := runes[:len(runes)-len(ext)]
	return string(base[:limit-len(ext)]) + string(ext)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(reservedChars, r) {
			return '_'
		}
		return r
	}, name)
}
