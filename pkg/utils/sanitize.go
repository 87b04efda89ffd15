package utils

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
const maxFilenameLength = 200                                          // Max byte length for sanitized filenames

// SanitizeFilename makes a server- or URL-provided name safe to use inside the output directory.
// Invalid characters become underscores, the extension survives truncation, and names that
// would escape or alias the directory ("", ".", "..") come back empty so callers can pick a fallback.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" || strings.Trim(sanitized, ".") == "" {
		return ""
	}

	if len(sanitized) > maxFilenameLength {
		ext := filepath.Ext(sanitized)
		if len(ext) > 16 { // Not a real extension
			ext = ""
		}
		stem := truncateUTF8(strings.TrimSuffix(sanitized, ext), maxFilenameLength-len(ext))
		sanitized = stem + ext
	}
	return sanitized
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
