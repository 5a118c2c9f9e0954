// Package security guards file paths taken from untrusted input.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a relative path climbs out of its base.
var ErrPathEscape = errors.New("path escapes base directory")

// ResolveWithin joins name onto baseDir, refusing relative names that leave
// baseDir once cleaned. Absolute names are returned cleaned and unchecked:
// the caller asked for that file explicitly. The check is lexical so it works
// for in-memory filesystems too.
func ResolveWithin(baseDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", name, ErrPathEscape)
	}
	return filepath.Join(baseDir, clean), nil
}

// SanitizeFilename makes a safe file name from an arbitrary identifier:
// anything other than ASCII letters, digits, dot, underscore or dash becomes
// a single underscore, and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
