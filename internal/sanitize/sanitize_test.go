package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "passthrough clean text",
			input: "The party agreed to meet the Crone at dawn",
			want:  "The party agreed to meet the Crone at dawn",
		},
		{
			name:  "strip null bytes",
			input: "meet\x00 at dawn",
			want:  "meet at dawn",
		},
		{
			name:  "strip control characters except newline and tab",
			input: "meet\x01 at\x02 da\x03wn\x07",
			want:  "meet at dawn",
		},
		{
			name:  "preserve newlines and tabs",
			input: "Line one\nLine two\n\tIndented",
			want:  "Line one\nLine two\n\tIndented",
		},
		{
			name:  "collapse excessive newlines",
			input: "one\n\n\n\n\ntwo",
			want:  "one\n\ntwo",
		},
		{
			name:  "trim surrounding whitespace",
			input: "  padded  ",
			want:  "padded",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Note(tt.input)
			if got != tt.want {
				t.Errorf("Note(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNoteTruncation(t *testing.T) {
	long := strings.Repeat("a", MaxNoteLength+100)
	got := Note(long)
	if utf8.RuneCountInString(got) != MaxNoteLength+3 {
		t.Errorf("expected truncation to %d runes plus ellipsis, got %d",
			MaxNoteLength, utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected truncated note to end with ellipsis")
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain name", "The Crone", "The Crone"},
		{"apostrophe kept", "Baba Yaga's Hut", "Baba Yaga's Hut"},
		{"interior whitespace collapsed", "Baba   Yaga\t Hut", "Baba Yaga Hut"},
		{"control characters stripped", "Ba\x00ba Yaga", "Baba Yaga"},
		{"surrounding whitespace trimmed", "  Baba Yaga  ", "Baba Yaga"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Name(tt.input)
			if got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain slug", "session_01", "session_01"},
		{"spaces become underscores", "winter campaign", "winter_campaign"},
		{"path traversal stripped", "../../etc/passwd", "etcpasswd"},
		{"repeated separators collapse", "a__--b", "a_b"},
		{"leading and trailing separators trimmed", "_session_", "session"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slug(tt.input)
			if got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
