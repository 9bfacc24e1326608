package models

// SpanKind classifies what an evidence span substantiates.
type SpanKind string

const (
	SpanQuote   SpanKind = "quote"
	SpanSupport SpanKind = "support"
	SpanMention SpanKind = "mention"
	SpanOther   SpanKind = "other"
)

// EvidenceSpan points into transcript text: an utterance plus an optional
// half-open character range [CharStart, CharEnd). When the range is present,
// the referenced utterance sliced by it must equal the displayed text
// exactly after newline normalization.
type EvidenceSpan struct {
	UtteranceID string   `json:"utterance_id"`
	CharStart   *int     `json:"char_start,omitempty"`
	CharEnd     *int     `json:"char_end,omitempty"`
	Kind        SpanKind `json:"kind,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// HasRange reports whether both character offsets are present.
func (s *EvidenceSpan) HasRange() bool {
	return s.CharStart != nil && s.CharEnd != nil
}
