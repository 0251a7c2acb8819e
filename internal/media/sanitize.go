package media

import (
	"path/filepath"
	"strings"
)

// fallbackName is used when sanitization leaves nothing usable.
const fallbackName = "unnamed_file"

// reservedNames are Windows device names that cannot be used as a file's
// base name, case-insensitively.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// SanitizeFilename makes a filename safe for every supported filesystem:
// path separators, shell-hostile punctuation and control characters become
// underscores, whitespace runs collapse to a single space, reserved device
// names get a leading underscore, and overlong names are truncated with the
// extension preserved. Idempotent: sanitizing an already-clean name is a
// no-op.
func SanitizeFilename(name string, maxLen int) string {
	sanitized := replaceUnsafe(name)
	sanitized = strings.Join(strings.Fields(sanitized), " ")

	base, _, _ := strings.Cut(sanitized, ".")
	if _, reserved := reservedNames[strings.ToUpper(base)]; reserved {
		sanitized = "_" + sanitized
	}

	if runes := []rune(sanitized); len(runes) > maxLen {
		ext := filepath.Ext(sanitized)
		extRunes := []rune(ext)
		keep := maxLen - len(extRunes)
		if keep < 0 {
			// Extension alone exceeds the limit; keep as much of it as fits.
			sanitized = string(extRunes[:maxLen])
		} else {
			stem := []rune(strings.TrimSuffix(sanitized, ext))
			if keep > len(stem) {
				keep = len(stem)
			}
			sanitized = string(stem[:keep]) + ext
		}
	}

	if sanitized == "" {
		return fallbackName
	}
	return sanitized
}

// sanitizeComponent cleans a single path component (folder names): same
// character replacement and whitespace collapsing, no reserved-name or
// length handling.
func sanitizeComponent(name string) string {
	return strings.Join(strings.Fields(replaceUnsafe(name)), " ")
}

func replaceUnsafe(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 0x20:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
