// Package evidence enforces the span-integrity guarantee: every displayable
// quote or cited span must be an exact substring of the utterance it points
// into. This package is the single enforcement point; nothing else may
// persist a quote or span without going through it.
package evidence

import (
	"strings"

	"lorekeeper/internal/models"
)

// Verdict is the outcome of validating one span.
type Verdict string

const (
	// VerdictValid means the span passed unchanged.
	VerdictValid Verdict = "valid"

	// VerdictRepaired means offsets were clamped or re-anchored to a
	// range that still yields an exact substring.
	VerdictRepaired Verdict = "repaired"

	// VerdictDropped means no valid repair exists. The owning fact keeps
	// going with demoted evidence completeness; the run does not abort.
	VerdictDropped Verdict = "dropped"
)

// SpanResult is the outcome of validating a supporting evidence span.
type SpanResult struct {
	Verdict Verdict
	Span    models.EvidenceSpan
	Reason  string
}

// QuoteResult is the outcome of validating a quote candidate.
type QuoteResult struct {
	Verdict Verdict
	Quote   models.QuoteCandidate
	Reason  string
}

// NormalizeNewlines collapses CRLF and bare CR to LF so that character
// offsets computed against either line convention compare equal.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// clamp bounds the half-open range [start, end) to [0, n), preserving
// non-emptiness where possible.
func clamp(start, end, n int) (int, int, bool) {
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return 0, 0, false
	}
	return start, end, true
}

// ValidateSpan checks one supporting evidence span against its utterance
// text. Spans without a character range are valid as long as the utterance
// exists; the range, when present, is clamped to the utterance or dropped.
func ValidateSpan(span models.EvidenceSpan, utteranceText string, utteranceExists bool) SpanResult {
	if !utteranceExists {
		return SpanResult{Verdict: VerdictDropped, Reason: "unknown utterance"}
	}
	if !span.HasRange() {
		return SpanResult{Verdict: VerdictValid, Span: span}
	}

	text := NormalizeNewlines(utteranceText)
	start, end := *span.CharStart, *span.CharEnd
	cs, ce, ok := clamp(start, end, len(text))
	if !ok {
		return SpanResult{Verdict: VerdictDropped, Reason: "empty range after clamp"}
	}
	if cs == start && ce == end {
		return SpanResult{Verdict: VerdictValid, Span: span}
	}
	repaired := span
	repaired.CharStart = &cs
	repaired.CharEnd = &ce
	return SpanResult{Verdict: VerdictRepaired, Span: repaired, Reason: "offsets clamped to utterance"}
}

// ValidateQuote checks a quote candidate against its utterance text and
// enforces the exact-substring invariant on the displayed text.
//
// Repair order: clamp out-of-range offsets; if the clamped slice no longer
// matches the displayed text, trim whitespace drift; failing that,
// re-anchor the displayed text wherever it occurs verbatim in the
// utterance. A candidate with no surviving exact match is dropped.
func ValidateQuote(q models.QuoteCandidate, utteranceText string, utteranceExists bool) QuoteResult {
	if !utteranceExists {
		return QuoteResult{Verdict: VerdictDropped, Reason: "unknown utterance"}
	}
	if q.CharStart == nil || q.CharEnd == nil {
		// A quote without offsets cannot be traced; try to anchor its
		// text before giving up.
		if anchored, ok := anchorText(q, utteranceText); ok {
			return QuoteResult{Verdict: VerdictRepaired, Quote: anchored, Reason: "anchored by text search"}
		}
		return QuoteResult{Verdict: VerdictDropped, Reason: "missing offsets"}
	}

	text := NormalizeNewlines(utteranceText)
	start, end := *q.CharStart, *q.CharEnd
	cs, ce, ok := clamp(start, end, len(text))
	if !ok {
		return QuoteResult{Verdict: VerdictDropped, Reason: "empty range after clamp"}
	}

	slice := text[cs:ce]
	display := NormalizeNewlines(q.Text)

	if display == "" {
		// No display text yet: the slice becomes the quote.
		out := q
		out.CharStart = &cs
		out.CharEnd = &ce
		out.Text = slice
		if cs == start && ce == end {
			return QuoteResult{Verdict: VerdictValid, Quote: out}
		}
		return QuoteResult{Verdict: VerdictRepaired, Quote: out, Reason: "offsets clamped to utterance"}
	}

	if slice == display {
		out := q
		out.CharStart = &cs
		out.CharEnd = &ce
		out.Text = display
		if cs == start && ce == end {
			return QuoteResult{Verdict: VerdictValid, Quote: out}
		}
		return QuoteResult{Verdict: VerdictRepaired, Quote: out, Reason: "offsets clamped to utterance"}
	}

	// Off-by-whitespace: the trimmed display text sits inside the slice.
	trimmed := strings.TrimSpace(display)
	if trimmed != "" {
		if rel := strings.Index(slice, trimmed); rel >= 0 {
			ns := cs + rel
			ne := ns + len(trimmed)
			out := q
			out.CharStart = &ns
			out.CharEnd = &ne
			out.Text = trimmed
			return QuoteResult{Verdict: VerdictRepaired, Quote: out, Reason: "trimmed whitespace drift"}
		}
	}

	if anchored, ok := anchorText(q, utteranceText); ok {
		return QuoteResult{Verdict: VerdictRepaired, Quote: anchored, Reason: "re-anchored by text search"}
	}
	return QuoteResult{Verdict: VerdictDropped, Reason: "text does not match utterance"}
}

// anchorText locates the candidate's displayed text verbatim within the
// utterance and rewrites the offsets to that occurrence.
func anchorText(q models.QuoteCandidate, utteranceText string) (models.QuoteCandidate, bool) {
	text := NormalizeNewlines(utteranceText)
	display := strings.TrimSpace(NormalizeNewlines(q.Text))
	if display == "" {
		return q, false
	}
	idx := strings.Index(text, display)
	if idx < 0 {
		return q, false
	}
	start := idx
	end := idx + len(display)
	out := q
	out.CharStart = &start
	out.CharEnd = &end
	out.Text = display
	return out, true
}

// CleanSpans validates a span list against an utterance lookup, returning
// the surviving spans plus repair/drop counts for the run's quality
// counters.
func CleanSpans(spans []models.EvidenceSpan, lookup map[string]string) (out []models.EvidenceSpan, repaired, dropped int) {
	for _, span := range spans {
		text, ok := lookup[span.UtteranceID]
		res := ValidateSpan(span, text, ok)
		switch res.Verdict {
		case VerdictValid:
			out = append(out, res.Span)
		case VerdictRepaired:
			out = append(out, res.Span)
			repaired++
		case VerdictDropped:
			dropped++
		}
	}
	return out, repaired, dropped
}

// Violation is one persisted quote that no longer matches its utterance.
type Violation struct {
	QuoteID     string `json:"quote_id"`
	UtteranceID string `json:"utterance_id"`
	Reason      string `json:"reason"`
}

// AuditQuotes re-checks persisted quotes against utterance text. A clean
// dataset returns an empty slice; anything else is an integrity violation
// introduced outside this package.
func AuditQuotes(quotes []models.Quote, lookup map[string]string) []Violation {
	var violations []Violation
	for _, q := range quotes {
		text, ok := lookup[q.UtteranceID]
		if !ok {
			violations = append(violations, Violation{QuoteID: q.ID, UtteranceID: q.UtteranceID, Reason: "unknown utterance"})
			continue
		}
		norm := NormalizeNewlines(text)
		if q.CharStart < 0 || q.CharEnd > len(norm) || q.CharStart >= q.CharEnd {
			violations = append(violations, Violation{QuoteID: q.ID, UtteranceID: q.UtteranceID, Reason: "range out of bounds"})
			continue
		}
		if norm[q.CharStart:q.CharEnd] != NormalizeNewlines(q.Text) {
			violations = append(violations, Violation{QuoteID: q.ID, UtteranceID: q.UtteranceID, Reason: "text mismatch"})
		}
	}
	return violations
}
