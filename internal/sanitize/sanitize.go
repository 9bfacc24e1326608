// Package sanitize cleans externally supplied text before it is stored or
// rendered: correction names and notes arriving over MCP, and slugs used
// to build filesystem paths. Utterance text is exempt; it is stored
// verbatim so evidence offsets stay valid.
package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNoteLength is the maximum allowed length for free-text notes and
// summaries.
const MaxNoteLength = 2000

// MaxNameLength is the maximum allowed length for entity and thread names.
const MaxNameLength = 120

// MaxSlugLength is the maximum allowed length for campaign and session slugs.
const MaxSlugLength = 80

var (
	// reExcessiveNewlines matches 3 or more consecutive newlines.
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)

	// reRepeatedSeparators matches runs of hyphens or underscores in slugs.
	reRepeatedSeparators = regexp.MustCompile(`[-_]{2,}`)
)

// Note cleans free text (correction notes, thread summaries) for storage:
// control characters stripped, excessive newlines collapsed, length capped.
func Note(input string) string {
	if input == "" {
		return ""
	}
	s := stripControlChars(input)
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxNoteLength {
		runes := []rune(s)
		s = string(runes[:MaxNoteLength]) + "..."
	}
	return s
}

// Name cleans an entity or thread name. Names keep spaces, apostrophes,
// and unicode letters; control characters go, interior whitespace
// collapses, and length is capped.
func Name(input string) string {
	if input == "" {
		return ""
	}
	s := stripControlChars(input)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > MaxNameLength {
		runes := []rune(s)
		s = string(runes[:MaxNameLength])
	}
	return s
}

// Slug cleans a campaign or session slug, keeping only [a-zA-Z0-9-_] so
// the value is safe inside filesystem paths. Repeated separators collapse.
func Slug(input string) string {
	if input == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	s := reRepeatedSeparators.ReplaceAllString(b.String(), "_")
	s = strings.Trim(s, "-_")
	if utf8.RuneCountInString(s) > MaxSlugLength {
		runes := []rune(s)
		s = string(runes[:MaxSlugLength])
	}
	return s
}

// Path cleans a user-supplied file path: control characters stripped and
// traversal sequences resolved.
func Path(input string) string {
	if input == "" {
		return ""
	}
	return filepath.Clean(stripControlChars(input))
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL
// (0x7F) from the string, except for newline (0x0A) and tab (0x09) which
// are preserved.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 || r == 0x7F) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
