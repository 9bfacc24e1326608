// Package resolve turns raw extraction output into canonical entities,
// mention links, and thread updates by consulting the canonical maps.
// Matching is case-insensitive exact (normalized keys); there is no
// semantic matching. Hidden identities fail closed: their mentions are
// dropped and counted, never re-created.
package resolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/models"
)

// Store is the persistence surface the engine writes through.
type Store interface {
	CreateEntity(ctx context.Context, e *models.Entity) error
	AddEntityAlias(ctx context.Context, a *models.EntityAlias) error
	LinkMention(ctx context.Context, runID, sessionID, mentionID, entityID string) error
	CreateThread(ctx context.Context, t *models.Thread) error
	AddThreadUpdate(ctx context.Context, u *models.ThreadUpdate) error
}

// AliasCollision reports an alias the engine declined to attach because an
// approved correction removed the same alias from a different entity.
// Reported, never auto-resolved.
type AliasCollision struct {
	Alias        string `json:"alias"`
	WantedEntity string `json:"wanted_entity"`
	RemovedOwner string `json:"removed_owner"`
}

// Result is the outcome of resolving one extraction against the maps.
type Result struct {
	Counters        models.QualityCounters
	AliasCollisions []AliasCollision
}

// Engine resolves mentions and thread candidates for one campaign.
type Engine struct {
	store Store
}

// NewEngine creates a resolution engine over the given store.
func NewEngine(s Store) *Engine {
	return &Engine{store: s}
}

// ResolveMentions resolves persisted raw mentions against the entity map.
// Each mention either links to an existing live entity, creates a new one,
// or is dropped (and counted) because its name is suppressed.
func (e *Engine) ResolveMentions(ctx context.Context, campaignID string, mentions []models.Mention, em *canonical.EntityMap, res *Result) error {
	// Names created during this pass; later mentions of the same new
	// name must reuse the entity rather than create duplicates.
	created := make(map[string]*models.Entity)

	for i := range mentions {
		m := &mentions[i]
		key := canonical.NormalizeKey(m.Text)
		if key == "" {
			continue
		}

		if id, hidden, ok := e.lookup(key, em, created); hidden {
			res.Counters.MentionsDroppedHidden++
			continue
		} else if ok {
			if err := e.link(ctx, m, id, em, created, res); err != nil {
				return err
			}
			continue
		}

		entity := &models.Entity{
			ID:            uuid.NewString(),
			CampaignID:    campaignID,
			Type:          m.EntityType,
			CanonicalName: m.Text,
			Description:   m.Description,
		}
		if err := e.store.CreateEntity(ctx, entity); err != nil {
			return fmt.Errorf("create entity %q: %w", m.Text, err)
		}
		created[key] = entity
		res.Counters.EntitiesCreated++
		if err := e.link(ctx, m, entity.ID, em, created, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) lookup(key string, em *canonical.EntityMap, created map[string]*models.Entity) (id string, hidden, ok bool) {
	if ent, ok := created[key]; ok {
		return ent.ID, false, true
	}
	return em.ResolveName(key)
}

// link attaches the mention to the entity and records the raw text as an
// alias when it differs from the canonical name.
func (e *Engine) link(ctx context.Context, m *models.Mention, entityID string, em *canonical.EntityMap, created map[string]*models.Entity, res *Result) error {
	if err := e.store.LinkMention(ctx, m.RunID, m.SessionID, m.ID, entityID); err != nil {
		return fmt.Errorf("link mention %s: %w", m.ID, err)
	}
	m.ResolvedEntityID = entityID
	res.Counters.MentionsLinked++

	canonicalName := ""
	if ent := createdByID(created, entityID); ent != nil {
		canonicalName = ent.CanonicalName
	} else if name, ok := em.CanonicalName(entityID); ok {
		canonicalName = name
	}
	key := canonical.NormalizeKey(m.Text)
	if canonicalName == "" || key == canonical.NormalizeKey(canonicalName) {
		return nil
	}

	// A removed alias stays removed for every other entity until a human
	// re-adds it explicitly.
	if owner, removed := em.RemovedAliasOwner(key); removed && owner != entityID {
		res.AliasCollisions = append(res.AliasCollisions, AliasCollision{
			Alias:        m.Text,
			WantedEntity: entityID,
			RemovedOwner: owner,
		})
		res.Counters.MentionsDroppedRemoved++
		return nil
	}
	for _, existing := range em.Aliases(entityID) {
		if canonical.NormalizeKey(existing) == key {
			return nil
		}
	}
	alias := &models.EntityAlias{ID: uuid.NewString(), EntityID: entityID, Alias: m.Text}
	if err := e.store.AddEntityAlias(ctx, alias); err != nil {
		return fmt.Errorf("add alias %q: %w", m.Text, err)
	}
	res.Counters.AliasesAdded++
	return nil
}

func createdByID(created map[string]*models.Entity, id string) *models.Entity {
	for _, ent := range created {
		if ent.ID == id {
			return ent
		}
	}
	return nil
}

// ResolveThreads resolves thread candidates against the thread map: a
// candidate whose title matches a live thread appends updates to it; an
// unmatched candidate becomes a new thread; a candidate resolving to a
// hidden thread is dropped and counted.
func (e *Engine) ResolveThreads(ctx context.Context, campaignID, runID, sessionID string, candidates []models.ThreadCandidate, eventIDs []string, tm *canonical.ThreadMap, res *Result) error {
	created := make(map[string]string)

	for _, cand := range candidates {
		key := canonical.NormalizeKey(cand.Title)
		if key == "" {
			continue
		}

		threadID := ""
		if id, ok := created[key]; ok {
			threadID = id
		} else if id, hidden, ok := tm.ResolveTitle(cand.Title); hidden {
			res.Counters.ThreadUpdatesDropped += len(cand.Updates)
			continue
		} else if ok {
			threadID = id
		} else {
			thread := &models.Thread{
				ID:         uuid.NewString(),
				CampaignID: campaignID,
				RunID:      runID,
				SessionID:  sessionID,
				Title:      cand.Title,
				Kind:       orDefault(cand.Kind, "other"),
				Status:     orDefault(cand.Status, models.ThreadProposed),
				Summary:    cand.Summary,
				Evidence:   cand.Evidence,
				Confidence: cand.Confidence,
			}
			if err := e.store.CreateThread(ctx, thread); err != nil {
				return fmt.Errorf("create thread %q: %w", cand.Title, err)
			}
			created[key] = thread.ID
			threadID = thread.ID
			res.Counters.ThreadsCreated++
		}

		for _, upd := range cand.Updates {
			var related []string
			for _, idx := range upd.RelatedEventIndexes {
				if idx >= 0 && idx < len(eventIDs) {
					related = append(related, eventIDs[idx])
				}
			}
			row := &models.ThreadUpdate{
				ID:              uuid.NewString(),
				RunID:           runID,
				SessionID:       sessionID,
				ThreadID:        threadID,
				UpdateType:      upd.UpdateType,
				Note:            upd.Note,
				Evidence:        upd.Evidence,
				RelatedEventIDs: related,
			}
			if err := e.store.AddThreadUpdate(ctx, row); err != nil {
				return fmt.Errorf("add thread update: %w", err)
			}
		}
	}
	return nil
}

// CanonicalizeFacts rewrites denormalized name lists (scene participants,
// event entity names) to canonical names and drops suppressed ones,
// counting the drops. Raw mentions are left untouched: mention text is
// immutable and resolution happens by attachment, not rewrite. Pure;
// operates on a copy.
func CanonicalizeFacts(facts models.SessionFacts, em *canonical.EntityMap, counters *models.QualityCounters) models.SessionFacts {
	snap := em.Snapshot()
	hidden := make(map[string]bool, len(snap.HiddenNames))
	for _, k := range snap.HiddenNames {
		hidden[k] = true
	}

	rewrite := func(names []string) []string {
		var out []string
		for _, name := range names {
			key := canonical.NormalizeKey(name)
			if hidden[key] {
				counters.MentionsDroppedHidden++
				continue
			}
			if canonicalName, ok := snap.NameToCanonical[key]; ok {
				out = append(out, canonicalName)
				continue
			}
			out = append(out, name)
		}
		return out
	}

	// The slice headers are copied by the value receiver but still share
	// backing arrays with the caller; clone before rewriting in place.
	facts.Scenes = append([]models.RawScene(nil), facts.Scenes...)
	facts.Events = append([]models.RawEvent(nil), facts.Events...)
	for i := range facts.Scenes {
		facts.Scenes[i].Participants = rewrite(facts.Scenes[i].Participants)
	}
	for i := range facts.Events {
		facts.Events[i].Entities = rewrite(facts.Events[i].Entities)
	}
	return facts
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
