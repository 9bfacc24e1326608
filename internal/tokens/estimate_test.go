package tokens

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty string", "", 0},
		{"single char", "a", 1},
		{"four chars (1 token)", "abcd", 1},
		{"five chars (2 tokens)", "abcde", 2},
		{"eight chars (2 tokens)", "abcdefgh", 2},
		{"typical short text", "hello world", 3},
		{"longer text", "This is a longer piece of text that should estimate to more tokens", 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.input)
			if got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateToBudget(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		budget int
		want   string
	}{
		{"within budget", "short text", 100, "short text"},
		{"zero budget passes through", "short text", 0, "short text"},
		{"cuts at line boundary", "line one here\nline two here\nline three here", 5, "line one here\n"},
		{"no newline inside budget cuts hard", "abcdefghijklmnopqrstuvwxyz", 2, "abcdefgh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateToBudget(tt.input, tt.budget)
			if got != tt.want {
				t.Errorf("TruncateToBudget(%q, %d) = %q, want %q", tt.input, tt.budget, got, tt.want)
			}
		})
	}
}
