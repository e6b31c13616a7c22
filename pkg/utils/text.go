package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRun      = regexp.MustCompile(`\s+`)
	forbiddenRun  = regexp.MustCompile(`[:/\\?%*|"<>\n\r]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// DefaultFilenameLength is the rune limit applied to sanitized titles.
const DefaultFilenameLength = 50

// CleanText removes extra whitespace and normalizes text
func CleanText(text string) string {
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SanitizeFilename turns a page title into a filesystem-safe base name.
// It never returns an empty string.
func SanitizeFilename(title string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultFilenameLength
	}

	name := forbiddenRun.ReplaceAllString(title, "_")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = spaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	name = underscoreRun.ReplaceAllString(name, "_")

	// Limit length on rune boundaries
	if runes := []rune(name); len(runes) > maxLen {
		name = string(runes[:maxLen])
	}

	name = strings.Trim(name, "_.")
	if name == "" {
		return "page"
	}
	return name
}

// TruncateText truncates text to at most maxLength runes, preserving word
// boundaries
func TruncateText(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}

	truncated := string(runes[:maxLength])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}

	return truncated + "..."
}
