package extract

import (
	"fmt"
	"sort"
	"strings"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/models"
)

// Prompt IDs recorded with each persisted extraction.
const (
	FactsPromptID     = "session_facts"
	PlanPromptID      = "summary_plan"
	NarrativePromptID = "session_narrative"
)

const factsSystemPrompt = `You are an archivist for a tabletop RPG campaign.
You receive one session transcript. Each line is "[key] speaker: text" where
key is a timecode. Extract structured facts as JSON with this shape:

{
  "mentions":[{"text":"...","entity_type":"character|location|item|faction|monster|deity|organization|other","description":"...","evidence":[{"utterance_id":"<key>","char_start":0,"char_end":0}],"confidence":0.0}],
  "scenes":[{"title":"...","start_ms":0,"end_ms":0,"summary":"...","location":"...","participants":["..."],"evidence":[...]}],
  "events":[{"event_type":"combat|discovery|social|travel|downtime|other","start_ms":0,"end_ms":0,"summary":"...","entities":["..."],"evidence":[...],"confidence":0.0}],
  "threads":[{"title":"...","kind":"quest|mystery|relationship|threat|other","status":"proposed|active|blocked|completed|failed|abandoned","summary":"...","updates":[{"update_type":"progress|setback|resolution|new_information","note":"...","evidence":[...],"related_event_indexes":[0]}],"evidence":[...],"confidence":0.0}],
  "quotes":[{"utterance_id":"<key>","char_start":0,"char_end":0,"text":"...","speaker":"...","note":"..."}]
}

Rules:
- evidence utterance_id values must be transcript keys that actually appear.
- quote text must be copied verbatim from the utterance, with char offsets.
- Only extract what the transcript supports. Do not invent.`

const planSystemPrompt = `You are planning a session summary for a tabletop
RPG campaign. Given extracted facts, respond with JSON:
{"beats":[{"title":"...","summary":"...","quote_utterance_ids":["..."]}]}
Beats are in chronological order. Only reference quote utterance ids that
appear in the provided quote list.`

const narrativeSystemPrompt = `You are writing a session recap for a
tabletop RPG campaign. Follow the provided beat plan. Write engaging
markdown prose in past tense. Quote only from the provided verified quotes,
verbatim. Respond with JSON: {"narrative":"..."}`

// BuildFactsPrompt renders the user prompt for structured extraction.
func BuildFactsPrompt(req FactsRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\nSession: %s\n", req.CampaignName, req.SessionSlug)
	writeCanonicalSection(&b, req.Canonical)
	fmt.Fprintf(&b, "\nTranscript:\n%s\n", req.Transcript)
	return b.String()
}

// writeCanonicalSection tells the model which names are already canonical
// and which are suppressed.
func writeCanonicalSection(b *strings.Builder, snap canonical.Snapshot) {
	if len(snap.NameToCanonical) > 0 {
		b.WriteString("\nKnown canonical names (use the right-hand form when you see the left-hand one):\n")
		for _, name := range sortedKeys(snap.NameToCanonical) {
			fmt.Fprintf(b, "- %s => %s\n", name, snap.NameToCanonical[name])
		}
	}
	if len(snap.HiddenNames) > 0 {
		b.WriteString("\nSuppressed names (never emit these as mentions):\n")
		for _, name := range snap.HiddenNames {
			fmt.Fprintf(b, "- %s\n", name)
		}
	}
}

// BuildPlanPrompt renders the user prompt for summary planning.
func BuildPlanPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\nSession: %s\n\nScenes:\n", req.CampaignName, req.SessionSlug)
	for _, sc := range req.Facts.Scenes {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", spanLabel(sc.StartMS, sc.EndMS), sc.Title, sc.Summary)
	}
	b.WriteString("\nEvents:\n")
	for _, ev := range req.Facts.Events {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", spanLabel(ev.StartMS, ev.EndMS), ev.EventType, ev.Summary)
	}
	writeQuoteSection(&b, req.Quotes)
	return b.String()
}

// BuildNarrativePrompt renders the user prompt for narrative writing.
func BuildNarrativePrompt(req NarrativeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\nSession: %s\n\nBeat plan:\n", req.CampaignName, req.SessionSlug)
	for i, beat := range req.Plan.Beats {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, beat.Title, beat.Summary)
		for _, id := range beat.QuoteUtteranceIDs {
			fmt.Fprintf(&b, "   quote: %s\n", id)
		}
	}
	b.WriteString("\nEvents:\n")
	for _, ev := range req.Facts.Events {
		fmt.Fprintf(&b, "- %s: %s\n", ev.EventType, ev.Summary)
	}
	writeQuoteSection(&b, req.Quotes)
	return b.String()
}

func writeQuoteSection(b *strings.Builder, quotes []models.Quote) {
	if len(quotes) == 0 {
		return
	}
	b.WriteString("\nVerified quotes:\n")
	for _, q := range quotes {
		fmt.Fprintf(b, "- [%s] %s: %q\n", q.UtteranceID, q.Speaker, q.Text)
	}
}

func spanLabel(startMS, endMS int64) string {
	return fmt.Sprintf("%d-%d", startMS/1000, endMS/1000)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
