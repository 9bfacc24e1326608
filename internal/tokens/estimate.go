// Package tokens provides token estimation utilities for prompt budgeting.
package tokens

// EstimateTokens provides a rough token count estimate for text.
// Uses the common heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TruncateToBudget trims text to approximately the given token budget,
// cutting at the last line boundary inside the budget so transcript lines
// stay whole.
func TruncateToBudget(text string, budget int) string {
	if budget <= 0 || EstimateTokens(text) <= budget {
		return text
	}
	limit := budget * 4
	if limit >= len(text) {
		return text
	}
	cut := limit
	for cut > 0 && text[cut-1] != '\n' {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return text[:cut]
}
