package models

// SessionFacts is the typed output schema of the extractor collaborator.
// Every extracted item carries evidence references by utterance id with
// optional character offsets; nothing in here is canonical until it has
// been through evidence validation and resolution.
type SessionFacts struct {
	Mentions []RawMention      `json:"mentions"`
	Scenes   []RawScene        `json:"scenes"`
	Events   []RawEvent        `json:"events"`
	Threads  []ThreadCandidate `json:"threads"`
	Quotes   []QuoteCandidate  `json:"quotes"`
}

// RawMention is a pre-resolution entity reference.
type RawMention struct {
	Text        string         `json:"text"`
	EntityType  EntityType     `json:"entity_type"`
	Description string         `json:"description,omitempty"`
	Evidence    []EvidenceSpan `json:"evidence,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
}

// RawScene is an extracted scene block.
type RawScene struct {
	Title        string         `json:"title,omitempty"`
	StartMS      int64          `json:"start_ms"`
	EndMS        int64          `json:"end_ms"`
	Summary      string         `json:"summary"`
	Location     string         `json:"location,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Evidence     []EvidenceSpan `json:"evidence,omitempty"`
}

// RawEvent is an extracted atomic event.
type RawEvent struct {
	EventType  string         `json:"event_type"`
	StartMS    int64          `json:"start_ms"`
	EndMS      int64          `json:"end_ms"`
	Summary    string         `json:"summary"`
	Entities   []string       `json:"entities,omitempty"`
	Evidence   []EvidenceSpan `json:"evidence,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
}

// QuoteCandidate is a proposed displayable quote. Text is what would be
// shown; the span must survive evidence validation before the quote is
// persisted.
type QuoteCandidate struct {
	UtteranceID string `json:"utterance_id"`
	CharStart   *int   `json:"char_start,omitempty"`
	CharEnd     *int   `json:"char_end,omitempty"`
	Text        string `json:"text,omitempty"`
	Speaker     string `json:"speaker,omitempty"`
	Note        string `json:"note,omitempty"`
}

// ThreadUpdateCandidate is a proposed per-session note on a thread.
type ThreadUpdateCandidate struct {
	UpdateType          string         `json:"update_type"`
	Note                string         `json:"note"`
	Evidence            []EvidenceSpan `json:"evidence,omitempty"`
	RelatedEventIndexes []int          `json:"related_event_indexes,omitempty"`
}

// ThreadCandidate is a proposed thread plus its session updates.
type ThreadCandidate struct {
	Title      string                  `json:"title"`
	Kind       string                  `json:"kind,omitempty"`
	Status     string                  `json:"status,omitempty"`
	Summary    string                  `json:"summary,omitempty"`
	Updates    []ThreadUpdateCandidate `json:"updates,omitempty"`
	Evidence   []EvidenceSpan          `json:"evidence,omitempty"`
	Confidence *float64                `json:"confidence,omitempty"`
}

// SummaryBeat is one planned beat of the narrative summary.
type SummaryBeat struct {
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	QuoteUtteranceIDs []string `json:"quote_utterance_ids,omitempty"`
}

// SummaryPlan is the planned structure of the session summary.
type SummaryPlan struct {
	Beats []SummaryBeat `json:"beats"`
}
