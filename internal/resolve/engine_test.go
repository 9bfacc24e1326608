package resolve

import (
	"context"
	"testing"
	"time"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/models"
)

// fakeStore records engine writes without touching a database.
type fakeStore struct {
	entities      []models.Entity
	aliases       []models.EntityAlias
	links         map[string]string
	threads       []models.Thread
	threadUpdates []models.ThreadUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: make(map[string]string)}
}

func (f *fakeStore) CreateEntity(_ context.Context, e *models.Entity) error {
	f.entities = append(f.entities, *e)
	return nil
}

func (f *fakeStore) AddEntityAlias(_ context.Context, a *models.EntityAlias) error {
	f.aliases = append(f.aliases, *a)
	return nil
}

func (f *fakeStore) LinkMention(_ context.Context, _, _, mentionID, entityID string) error {
	f.links[mentionID] = entityID
	return nil
}

func (f *fakeStore) CreateThread(_ context.Context, t *models.Thread) error {
	f.threads = append(f.threads, *t)
	return nil
}

func (f *fakeStore) AddThreadUpdate(_ context.Context, u *models.ThreadUpdate) error {
	f.threadUpdates = append(f.threadUpdates, *u)
	return nil
}

func entityMapWith(t *testing.T, entities []models.Entity, aliases []models.EntityAlias, corrections []models.Correction) *canonical.EntityMap {
	t.Helper()
	return canonical.BuildEntityMap(entities, aliases, corrections)
}

func approvedCorrection(seq int64, target string, action models.Action, payload models.CorrectionPayload) models.Correction {
	return models.Correction{
		ID:         "c",
		CampaignID: "camp1",
		TargetType: models.TargetEntity,
		TargetID:   target,
		Action:     action,
		Payload:    payload,
		CreatedAt:  time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute),
		Seq:        seq,
		State:      models.CorrectionApproved,
	}
}

func mention(id, text string) models.Mention {
	return models.Mention{ID: id, RunID: "run1", SessionID: "sess1", Text: text, EntityType: models.EntityCharacter}
}

func TestResolveMentions_LinksExisting(t *testing.T) {
	store := newFakeStore()
	em := entityMapWith(t, []models.Entity{
		{ID: "e1", CampaignID: "camp1", CanonicalName: "Baba Yaga"},
	}, nil, nil)

	mentions := []models.Mention{mention("m1", "baba  YAGA")}
	var res Result
	if err := NewEngine(store).ResolveMentions(context.Background(), "camp1", mentions, em, &res); err != nil {
		t.Fatalf("ResolveMentions() error = %v", err)
	}

	if store.links["m1"] != "e1" {
		t.Errorf("link = %q, want e1", store.links["m1"])
	}
	if len(store.entities) != 0 {
		t.Errorf("entities created = %d, want 0", len(store.entities))
	}
	if mentions[0].ResolvedEntityID != "e1" {
		t.Errorf("ResolvedEntityID = %q", mentions[0].ResolvedEntityID)
	}
	if res.Counters.MentionsLinked != 1 || res.Counters.EntitiesCreated != 0 {
		t.Errorf("counters = %+v", res.Counters)
	}
	// Spelling that normalizes to the canonical name adds no alias row.
	if len(store.aliases) != 0 {
		t.Errorf("aliases = %+v, want none", store.aliases)
	}
}

func TestResolveMentions_CreatesNewOnce(t *testing.T) {
	store := newFakeStore()
	em := entityMapWith(t, nil, nil, nil)

	mentions := []models.Mention{
		mention("m1", "Strahd"),
		mention("m2", "strahd"),
	}
	var res Result
	if err := NewEngine(store).ResolveMentions(context.Background(), "camp1", mentions, em, &res); err != nil {
		t.Fatalf("ResolveMentions() error = %v", err)
	}

	if len(store.entities) != 1 {
		t.Fatalf("entities created = %d, want 1", len(store.entities))
	}
	created := store.entities[0]
	if created.CanonicalName != "Strahd" || created.CampaignID != "camp1" {
		t.Errorf("created = %+v", created)
	}
	if store.links["m1"] != created.ID || store.links["m2"] != created.ID {
		t.Errorf("links = %v, want both to %s", store.links, created.ID)
	}
	if res.Counters.EntitiesCreated != 1 || res.Counters.MentionsLinked != 2 {
		t.Errorf("counters = %+v", res.Counters)
	}
}

func TestResolveMentions_HiddenDropped(t *testing.T) {
	store := newFakeStore()
	em := entityMapWith(t, []models.Entity{
		{ID: "e1", CampaignID: "camp1", CanonicalName: "Baba Yaga"},
	}, nil, []models.Correction{
		approvedCorrection(1, "e1", models.ActionEntityHide, models.CorrectionPayload{}),
	})

	mentions := []models.Mention{mention("m1", "Baba Yaga")}
	var res Result
	if err := NewEngine(store).ResolveMentions(context.Background(), "camp1", mentions, em, &res); err != nil {
		t.Fatalf("ResolveMentions() error = %v", err)
	}

	// A suppressed name must not link and must not be re-created.
	if len(store.links) != 0 || len(store.entities) != 0 {
		t.Errorf("hidden mention persisted: links=%v entities=%v", store.links, store.entities)
	}
	if res.Counters.MentionsDroppedHidden != 1 {
		t.Errorf("MentionsDroppedHidden = %d, want 1", res.Counters.MentionsDroppedHidden)
	}
}

func TestResolveMentions_MergedLandOnSurvivor(t *testing.T) {
	store := newFakeStore()
	em := entityMapWith(t, []models.Entity{
		{ID: "e1", CampaignID: "camp1", CanonicalName: "Baba Yaga"},
		{ID: "e2", CampaignID: "camp1", CanonicalName: "The Hag"},
	}, nil, []models.Correction{
		approvedCorrection(1, "e2", models.ActionEntityMerge, models.CorrectionPayload{IntoID: "e1"}),
	})

	mentions := []models.Mention{mention("m1", "The Hag")}
	var res Result
	if err := NewEngine(store).ResolveMentions(context.Background(), "camp1", mentions, em, &res); err != nil {
		t.Fatalf("ResolveMentions() error = %v", err)
	}
	if store.links["m1"] != "e1" {
		t.Errorf("link = %q, want survivor e1", store.links["m1"])
	}
	// The merged-away canonical name becomes an alias of the survivor.
	if len(store.aliases) != 1 || store.aliases[0].Alias != "The Hag" || store.aliases[0].EntityID != "e1" {
		t.Errorf("aliases = %+v, want The Hag on e1", store.aliases)
	}
	if res.Counters.AliasesAdded != 1 {
		t.Errorf("AliasesAdded = %d, want 1", res.Counters.AliasesAdded)
	}
}

func TestResolveMentions_ExistingAliasNotDuplicated(t *testing.T) {
	store := newFakeStore()
	em := entityMapWith(t, []models.Entity{
		{ID: "e1", CampaignID: "camp1", CanonicalName: "Baba Yaga"},
	}, []models.EntityAlias{
		{ID: "a1", EntityID: "e1", Alias: "Grandmother"},
	}, nil)

	var res Result
	err := NewEngine(store).ResolveMentions(context.Background(), "camp1",
		[]models.Mention{mention("m1", "GRANDMOTHER")}, em, &res)
	if err != nil {
		t.Fatalf("ResolveMentions() error = %v", err)
	}
	if store.links["m1"] != "e1" {
		t.Errorf("link = %q, want e1", store.links["m1"])
	}
	if len(store.aliases) != 0 {
		t.Errorf("aliases = %+v, want none", store.aliases)
	}
}

func TestResolveMentions_RemovedAliasCollision(t *testing.T) {
	// "Granny" is a stored alias of e2, and an approved correction removed
	// the same alias from e1. The engine links the mention to e2 but will
	// not re-record the alias; the conflict is reported for a human.
	store := newFakeStore()
	em := entityMapWith(t, []models.Entity{
		{ID: "e1", CampaignID: "camp1", CanonicalName: "Baba Yaga"},
		{ID: "e2", CampaignID: "camp1", CanonicalName: "The Hag"},
	}, []models.EntityAlias{
		{ID: "a2", EntityID: "e2", Alias: "Granny"},
	}, []models.Correction{
		approvedCorrection(1, "e1", models.ActionEntityAliasRemove, models.CorrectionPayload{Alias: "Granny"}),
	})

	var res Result
	err := NewEngine(store).ResolveMentions(context.Background(), "camp1",
		[]models.Mention{mention("m1", "Granny")}, em, &res)
	if err != nil {
		t.Fatalf("ResolveMentions() error = %v", err)
	}

	if store.links["m1"] != "e2" {
		t.Errorf("link = %q, want e2", store.links["m1"])
	}
	if len(store.aliases) != 0 {
		t.Errorf("aliases = %+v, want none", store.aliases)
	}
	if len(res.AliasCollisions) != 1 {
		t.Fatalf("AliasCollisions = %+v, want 1", res.AliasCollisions)
	}
	got := res.AliasCollisions[0]
	if got.Alias != "Granny" || got.WantedEntity != "e2" || got.RemovedOwner != "e1" {
		t.Errorf("collision = %+v", got)
	}
	if res.Counters.MentionsDroppedRemoved != 1 {
		t.Errorf("MentionsDroppedRemoved = %d, want 1", res.Counters.MentionsDroppedRemoved)
	}
}

func TestResolveThreads(t *testing.T) {
	store := newFakeStore()
	tm := canonical.BuildThreadMap([]models.Thread{
		{ID: "t1", CampaignID: "camp1", Title: "Lift the curse", Status: models.ThreadActive},
	}, nil)

	candidates := []models.ThreadCandidate{
		{
			Title: "lift the CURSE",
			Updates: []models.ThreadUpdateCandidate{
				{UpdateType: "progress", Note: "Found the ritual book", RelatedEventIndexes: []int{0, 5}},
			},
		},
		{
			Title:  "Find the amulet",
			Kind:   "",
			Status: "",
			Updates: []models.ThreadUpdateCandidate{
				{UpdateType: "opened", Note: "The amulet surfaced in Vallaki"},
			},
		},
	}
	eventIDs := []string{"ev1", "ev2"}

	var res Result
	err := NewEngine(store).ResolveThreads(context.Background(), "camp1", "run1", "sess1", candidates, eventIDs, tm, &res)
	if err != nil {
		t.Fatalf("ResolveThreads() error = %v", err)
	}

	if len(store.threads) != 1 {
		t.Fatalf("threads created = %d, want 1", len(store.threads))
	}
	created := store.threads[0]
	if created.Title != "Find the amulet" || created.Kind != "other" || created.Status != models.ThreadProposed {
		t.Errorf("created thread = %+v", created)
	}
	if res.Counters.ThreadsCreated != 1 {
		t.Errorf("ThreadsCreated = %d, want 1", res.Counters.ThreadsCreated)
	}

	if len(store.threadUpdates) != 2 {
		t.Fatalf("thread updates = %d, want 2", len(store.threadUpdates))
	}
	first := store.threadUpdates[0]
	if first.ThreadID != "t1" {
		t.Errorf("matched update ThreadID = %q, want t1", first.ThreadID)
	}
	// Out-of-range event indexes are skipped.
	if len(first.RelatedEventIDs) != 1 || first.RelatedEventIDs[0] != "ev1" {
		t.Errorf("RelatedEventIDs = %v, want [ev1]", first.RelatedEventIDs)
	}
	if store.threadUpdates[1].ThreadID != created.ID {
		t.Errorf("new-thread update ThreadID = %q, want %q", store.threadUpdates[1].ThreadID, created.ID)
	}
}

func TestResolveThreads_HiddenDropped(t *testing.T) {
	store := newFakeStore()
	hide := approvedCorrection(1, "t1", models.ActionThreadHide, models.CorrectionPayload{})
	hide.TargetType = models.TargetThread
	tm := canonical.BuildThreadMap([]models.Thread{
		{ID: "t1", CampaignID: "camp1", Title: "Lift the curse", Status: models.ThreadActive},
	}, []models.Correction{hide})

	candidates := []models.ThreadCandidate{
		{Title: "Lift the curse", Updates: []models.ThreadUpdateCandidate{
			{UpdateType: "progress", Note: "one"},
			{UpdateType: "progress", Note: "two"},
		}},
	}
	var res Result
	err := NewEngine(store).ResolveThreads(context.Background(), "camp1", "run1", "sess1", candidates, nil, tm, &res)
	if err != nil {
		t.Fatalf("ResolveThreads() error = %v", err)
	}
	if len(store.threads) != 0 || len(store.threadUpdates) != 0 {
		t.Errorf("hidden thread persisted: %+v %+v", store.threads, store.threadUpdates)
	}
	if res.Counters.ThreadUpdatesDropped != 2 {
		t.Errorf("ThreadUpdatesDropped = %d, want 2", res.Counters.ThreadUpdatesDropped)
	}
}

func TestCanonicalizeFacts(t *testing.T) {
	em := entityMapWith(t, []models.Entity{
		{ID: "e1", CampaignID: "camp1", CanonicalName: "Baba Yaga"},
		{ID: "e2", CampaignID: "camp1", CanonicalName: "Strahd"},
	}, nil, []models.Correction{
		approvedCorrection(1, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "The Crone"}),
		approvedCorrection(2, "e2", models.ActionEntityHide, models.CorrectionPayload{}),
	})

	facts := models.SessionFacts{
		Scenes: []models.RawScene{
			{Summary: "ambush", Participants: []string{"baba yaga", "Strahd", "Ireena"}},
		},
		Events: []models.RawEvent{
			{EventType: "combat", Summary: "fight", Entities: []string{"BABA YAGA", "strahd"}},
		},
	}

	var counters models.QualityCounters
	got := CanonicalizeFacts(facts, em, &counters)

	wantParticipants := []string{"The Crone", "Ireena"}
	if len(got.Scenes[0].Participants) != 2 ||
		got.Scenes[0].Participants[0] != wantParticipants[0] ||
		got.Scenes[0].Participants[1] != wantParticipants[1] {
		t.Errorf("Participants = %v, want %v", got.Scenes[0].Participants, wantParticipants)
	}
	if len(got.Events[0].Entities) != 1 || got.Events[0].Entities[0] != "The Crone" {
		t.Errorf("Entities = %v, want [The Crone]", got.Events[0].Entities)
	}
	if counters.MentionsDroppedHidden != 2 {
		t.Errorf("MentionsDroppedHidden = %d, want 2", counters.MentionsDroppedHidden)
	}

	// The input is untouched: the rewrite must not reach back through
	// shared backing arrays.
	if len(facts.Scenes[0].Participants) != 3 || facts.Scenes[0].Participants[0] != "baba yaga" {
		t.Errorf("input Participants mutated: %v", facts.Scenes[0].Participants)
	}
	if len(facts.Events[0].Entities) != 2 || facts.Events[0].Entities[0] != "BABA YAGA" {
		t.Errorf("input Entities mutated: %v", facts.Events[0].Entities)
	}
}
