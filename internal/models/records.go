package models

import (
	"time"
)

// EntityType classifies a canonical entity.
type EntityType string

const (
	EntityCharacter    EntityType = "character"
	EntityLocation     EntityType = "location"
	EntityItem         EntityType = "item"
	EntityFaction      EntityType = "faction"
	EntityMonster      EntityType = "monster"
	EntityDeity        EntityType = "deity"
	EntityOrganization EntityType = "organization"
	EntityOther        EntityType = "other"
)

// Campaign is the top-level container. All canonical state is campaign-owned.
type Campaign struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	System    string    `json:"system,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one recorded play session within a campaign.
type Session struct {
	ID            string     `json:"id"`
	CampaignID    string     `json:"campaign_id"`
	Slug          string     `json:"slug"`
	SessionNumber int        `json:"session_number,omitempty"`
	Title         string     `json:"title,omitempty"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}

// Participant is a person at the table.
type Participant struct {
	ID             string   `json:"id"`
	CampaignID     string   `json:"campaign_id"`
	DisplayName    string   `json:"display_name"`
	Role           Role     `json:"role,omitempty"`
	SpeakerAliases []string `json:"speaker_aliases,omitempty"`
}

// ParticipantCharacter links a participant to the entity they play.
type ParticipantCharacter struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	EntityID      string `json:"entity_id"`
}

// Utterance is one transcribed line of table talk. Utterance text is the
// ground truth that every evidence span must point into.
type Utterance struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	StartMS       int64  `json:"start_ms"`
	EndMS         int64  `json:"end_ms"`
	SpeakerRaw    string `json:"speaker_raw,omitempty"`
	Text          string `json:"text"`
}

// Entity is a canonical campaign entity. Entities are created lazily on
// first resolution and never physically deleted; hidden and merged are soft
// states derived from approved corrections.
type Entity struct {
	ID                 string     `json:"id"`
	CampaignID         string     `json:"campaign_id"`
	Type               EntityType `json:"type"`
	CanonicalName      string     `json:"canonical_name"`
	Description        string     `json:"description,omitempty"`
	CharacterKind      string     `json:"character_kind,omitempty"`
	OwnerParticipantID string     `json:"owner_participant_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`

	// Derived from the canonical map on read paths; not stored.
	Aliases    []string `json:"aliases,omitempty"`
	Hidden     bool     `json:"hidden,omitempty"`
	MergedInto string   `json:"merged_into,omitempty"`
	Corrected  bool     `json:"corrected,omitempty"`
}

// EntityAlias is one stored alias row for an entity.
type EntityAlias struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	Alias    string `json:"alias"`
}

// Mention is a raw, pre-resolution reference extracted from a transcript.
// Immutable once created; resolution attaches ResolvedEntityID.
type Mention struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	SessionID   string         `json:"session_id"`
	Text        string         `json:"text"`
	EntityType  EntityType     `json:"entity_type"`
	Description string         `json:"description,omitempty"`
	Evidence    []EvidenceSpan `json:"evidence,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`

	ResolvedEntityID string `json:"resolved_entity_id,omitempty"`
}

// Scene is a contiguous block of session time with a shared focus.
type Scene struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	SessionID    string         `json:"session_id"`
	Title        string         `json:"title,omitempty"`
	Summary      string         `json:"summary"`
	Location     string         `json:"location,omitempty"`
	StartMS      int64          `json:"start_ms"`
	EndMS        int64          `json:"end_ms"`
	Participants []string       `json:"participants,omitempty"`
	Evidence     []EvidenceSpan `json:"evidence,omitempty"`
}

// Event is one atomic thing that happened.
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	SessionID  string         `json:"session_id"`
	EventType  string         `json:"event_type"`
	Summary    string         `json:"summary"`
	StartMS    int64          `json:"start_ms"`
	EndMS      int64          `json:"end_ms"`
	Entities   []string       `json:"entities,omitempty"`
	Evidence   []EvidenceSpan `json:"evidence,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
}

// Quote is a displayable verbatim excerpt. The persisted text must equal
// utterance.Text[CharStart:CharEnd] exactly; the evidence validator is the
// single enforcement point for that.
type Quote struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	SessionID   string `json:"session_id"`
	UtteranceID string `json:"utterance_id"`
	CharStart   int    `json:"char_start"`
	CharEnd     int    `json:"char_end"`
	Text        string `json:"text"`
	Speaker     string `json:"speaker,omitempty"`
	Note        string `json:"note,omitempty"`
}

// ThreadStatus values for ongoing plot threads.
const (
	ThreadProposed  = "proposed"
	ThreadActive    = "active"
	ThreadBlocked   = "blocked"
	ThreadCompleted = "completed"
	ThreadFailed    = "failed"
	ThreadAbandoned = "abandoned"
)

// Thread is an ongoing plot thread with identity stable across sessions.
type Thread struct {
	ID         string         `json:"id"`
	CampaignID string         `json:"campaign_id"`
	RunID      string         `json:"run_id"`
	SessionID  string         `json:"session_id"`
	Title      string         `json:"title"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	Summary    string         `json:"summary,omitempty"`
	Evidence   []EvidenceSpan `json:"evidence,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`

	// Derived from the canonical map on read paths; not stored.
	Hidden     bool   `json:"hidden,omitempty"`
	MergedInto string `json:"merged_into,omitempty"`
	Corrected  bool   `json:"corrected,omitempty"`
}

// ThreadUpdate is an append-only per-session note on a thread.
type ThreadUpdate struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	SessionID       string         `json:"session_id"`
	ThreadID        string         `json:"thread_id"`
	UpdateType      string         `json:"update_type"`
	Note            string         `json:"note"`
	Evidence        []EvidenceSpan `json:"evidence,omitempty"`
	RelatedEventIDs []string       `json:"related_event_ids,omitempty"`
}

// Artifact records a rendered output file for a run.
type Artifact struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Extraction is one persisted extractor payload (or system-generated
// report), keyed by kind so stages can replay prior output without
// re-invoking the model.
type Extraction struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	SessionID     string    `json:"session_id"`
	Kind          string    `json:"kind"`
	Model         string    `json:"model"`
	PromptID      string    `json:"prompt_id"`
	PromptVersion string    `json:"prompt_version"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}
