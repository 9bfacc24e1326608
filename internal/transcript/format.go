package transcript

import (
	"fmt"
	"strings"

	"lorekeeper/internal/models"
)

// Timecode renders milliseconds as HH:MM:SS.
func Timecode(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// Format renders utterances as prompt text, one "[key] speaker: text" line
// each, and returns the key→utterance-id map used to translate model
// output back to real IDs. Utterances sharing a timecode get #n suffixes
// so keys stay unique.
func Format(utterances []models.Utterance, speakerNames map[string]string, characterMap map[string]string) (string, map[string]string) {
	counts := make(map[string]int)
	for _, u := range utterances {
		counts[Timecode(u.StartMS)]++
	}

	indices := make(map[string]int)
	keyToID := make(map[string]string, len(utterances))
	var b strings.Builder
	for i, u := range utterances {
		tc := Timecode(u.StartMS)
		key := tc
		if counts[tc] > 1 {
			indices[tc]++
			key = fmt.Sprintf("%s#%d", tc, indices[tc])
		}
		speaker := u.SpeakerRaw
		if name, ok := speakerNames[u.ParticipantID]; ok {
			speaker = name
		}
		if character, ok := characterMap[speaker]; ok {
			speaker = character
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %s", key, speaker, u.Text)
		keyToID[key] = u.ID
	}
	return b.String(), keyToID
}

// MapFactIDs rewrites transcript keys in extractor output back to
// utterance IDs. Unknown keys pass through untouched; the evidence
// validator drops them later.
func MapFactIDs(facts *models.SessionFacts, keyToID map[string]string) {
	mapID := func(v string) string {
		if id, ok := keyToID[v]; ok {
			return id
		}
		return v
	}
	mapSpans := func(spans []models.EvidenceSpan) {
		for i := range spans {
			spans[i].UtteranceID = mapID(spans[i].UtteranceID)
		}
	}

	for i := range facts.Mentions {
		mapSpans(facts.Mentions[i].Evidence)
	}
	for i := range facts.Scenes {
		mapSpans(facts.Scenes[i].Evidence)
	}
	for i := range facts.Events {
		mapSpans(facts.Events[i].Evidence)
	}
	for i := range facts.Threads {
		mapSpans(facts.Threads[i].Evidence)
		for j := range facts.Threads[i].Updates {
			mapSpans(facts.Threads[i].Updates[j].Evidence)
		}
	}
	for i := range facts.Quotes {
		facts.Quotes[i].UtteranceID = mapID(facts.Quotes[i].UtteranceID)
	}
}
