package canonical

import (
	"reflect"
	"testing"
	"time"

	"lorekeeper/internal/models"
)

var foldBase = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func approved(seq int64, offset time.Duration, target string, action models.Action, payload models.CorrectionPayload) models.Correction {
	return models.Correction{
		ID:         "c" + time.Duration(seq).String(),
		CampaignID: "camp1",
		TargetType: models.TargetEntity,
		TargetID:   target,
		Action:     action,
		Payload:    payload,
		CreatedAt:  foldBase.Add(offset),
		Seq:        seq,
		State:      models.CorrectionApproved,
	}
}

func testEntities() []models.Entity {
	return []models.Entity{
		{ID: "e1", CampaignID: "camp1", Type: models.EntityCharacter, CanonicalName: "Baba Yaga"},
		{ID: "e2", CampaignID: "camp1", Type: models.EntityCharacter, CanonicalName: "The Hag"},
		{ID: "e3", CampaignID: "camp1", Type: models.EntityLocation, CanonicalName: "Barovia"},
	}
}

func TestBuildEntityMap_Base(t *testing.T) {
	aliases := []models.EntityAlias{{ID: "a1", EntityID: "e1", Alias: "Grandmother"}}
	m := BuildEntityMap(testEntities(), aliases, nil)

	id, hidden, ok := m.ResolveName("baba  YAGA")
	if !ok || hidden || id != "e1" {
		t.Fatalf("ResolveName(baba YAGA) = %q, %v, %v, want e1", id, hidden, ok)
	}
	if id, _, ok := m.ResolveName("Grandmother"); !ok || id != "e1" {
		t.Fatalf("alias lookup = %q, %v, want e1", id, ok)
	}
	if _, _, ok := m.ResolveName("Strahd"); ok {
		t.Fatal("unknown name resolved")
	}
	if name, _ := m.CanonicalName("e1"); name != "Baba Yaga" {
		t.Fatalf("CanonicalName(e1) = %q", name)
	}
}

func TestBuildEntityMap_Rename(t *testing.T) {
	corrections := []models.Correction{
		approved(1, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "The Crone"}),
	}
	m := BuildEntityMap(testEntities(), nil, corrections)

	if name, _ := m.CanonicalName("e1"); name != "The Crone" {
		t.Fatalf("CanonicalName(e1) = %q, want The Crone", name)
	}
	// The old canonical name stays resolvable as an alias.
	if id, _, ok := m.ResolveName("Baba Yaga"); !ok || id != "e1" {
		t.Fatalf("old name lookup = %q, %v, want e1", id, ok)
	}
	if id, _, ok := m.ResolveName("the crone"); !ok || id != "e1" {
		t.Fatalf("new name lookup = %q, %v, want e1", id, ok)
	}
	if got := m.Aliases("e1"); !reflect.DeepEqual(got, []string{"Baba Yaga"}) {
		t.Fatalf("Aliases(e1) = %v", got)
	}
	if !m.Corrected("e1") {
		t.Fatal("Corrected(e1) = false")
	}
}

func TestBuildEntityMap_LaterCorrectionWins(t *testing.T) {
	corrections := []models.Correction{
		// Deliberately out of slice order; the fold sorts by (created_at, seq).
		approved(2, time.Hour, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "The Crone"}),
		approved(1, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "Granny"}),
	}
	m := BuildEntityMap(testEntities(), nil, corrections)
	if name, _ := m.CanonicalName("e1"); name != "The Crone" {
		t.Fatalf("CanonicalName(e1) = %q, want The Crone", name)
	}
}

func TestBuildEntityMap_SeqBreaksTimestampTies(t *testing.T) {
	corrections := []models.Correction{
		approved(7, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "Second"}),
		approved(3, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "First"}),
	}
	m := BuildEntityMap(testEntities(), nil, corrections)
	if name, _ := m.CanonicalName("e1"); name != "Second" {
		t.Fatalf("CanonicalName(e1) = %q, want Second", name)
	}
}

func TestBuildEntityMap_PendingAndRejectedIgnored(t *testing.T) {
	pending := approved(1, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "Nope"})
	pending.State = models.CorrectionPending
	rejected := approved(2, time.Minute, "e1", models.ActionEntityHide, models.CorrectionPayload{})
	rejected.State = models.CorrectionRejected

	m := BuildEntityMap(testEntities(), nil, []models.Correction{pending, rejected})
	if name, _ := m.CanonicalName("e1"); name != "Baba Yaga" {
		t.Fatalf("CanonicalName(e1) = %q, want Baba Yaga", name)
	}
	if m.Hidden("e1") {
		t.Fatal("rejected hide applied")
	}
}

func TestBuildEntityMap_MergeChainCollapse(t *testing.T) {
	entities := append(testEntities(), models.Entity{ID: "e4", CampaignID: "camp1", Type: models.EntityCharacter, CanonicalName: "Old Woman"})
	corrections := []models.Correction{
		approved(1, 0, "e2", models.ActionEntityMerge, models.CorrectionPayload{IntoID: "e1"}),
		approved(2, time.Minute, "e4", models.ActionEntityMerge, models.CorrectionPayload{IntoID: "e2"}),
	}
	m := BuildEntityMap(entities, nil, corrections)

	if got := m.ResolveID("e4"); got != "e1" {
		t.Fatalf("ResolveID(e4) = %q, want e1", got)
	}
	// Names of merged entities land on the survivor.
	for _, name := range []string{"The Hag", "Old Woman"} {
		id, _, ok := m.ResolveName(name)
		if !ok || id != "e1" {
			t.Fatalf("ResolveName(%q) = %q, %v, want e1", name, id, ok)
		}
	}
	if name, _ := m.CanonicalName("e4"); name != "Baba Yaga" {
		t.Fatalf("CanonicalName(e4) = %q, want Baba Yaga", name)
	}
	if into, ok := m.MergedInto("e4"); !ok || into != "e2" {
		t.Fatalf("MergedInto(e4) = %q, %v, want e2", into, ok)
	}
}

func TestBuildEntityMap_Unmerge(t *testing.T) {
	corrections := []models.Correction{
		approved(1, 0, "e2", models.ActionEntityMerge, models.CorrectionPayload{IntoID: "e1"}),
		approved(2, time.Minute, "e2", models.ActionEntityUnmerge, models.CorrectionPayload{}),
	}
	m := BuildEntityMap(testEntities(), nil, corrections)
	if id, _, ok := m.ResolveName("The Hag"); !ok || id != "e2" {
		t.Fatalf("ResolveName(The Hag) = %q, %v, want e2", id, ok)
	}
	if _, ok := m.MergedInto("e2"); ok {
		t.Fatal("merge pointer survived unmerge")
	}
}

func TestBuildEntityMap_HiddenFailsClosed(t *testing.T) {
	aliases := []models.EntityAlias{{ID: "a1", EntityID: "e2", Alias: "Night Mother"}}
	corrections := []models.Correction{
		approved(1, 0, "e2", models.ActionEntityHide, models.CorrectionPayload{}),
	}
	m := BuildEntityMap(testEntities(), aliases, corrections)

	for _, name := range []string{"The Hag", "Night Mother"} {
		id, hidden, ok := m.ResolveName(name)
		if ok || !hidden {
			t.Fatalf("ResolveName(%q) = %q, hidden=%v, ok=%v, want hidden", name, id, hidden, ok)
		}
	}
	if !m.Hidden("e2") {
		t.Fatal("Hidden(e2) = false")
	}
	snap := m.Snapshot()
	if _, ok := snap.NameToCanonical["the hag"]; ok {
		t.Fatal("hidden name present in snapshot name map")
	}
	if !reflect.DeepEqual(snap.HiddenNames, []string{"night mother", "the hag"}) {
		t.Fatalf("HiddenNames = %v", snap.HiddenNames)
	}
}

func TestBuildEntityMap_HidePrecedesRename(t *testing.T) {
	// Order does not matter: hide wins over rename on the same entity.
	corrections := []models.Correction{
		approved(1, 0, "e1", models.ActionEntityHide, models.CorrectionPayload{}),
		approved(2, time.Minute, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "The Crone"}),
	}
	m := BuildEntityMap(testEntities(), nil, corrections)
	if _, hidden, ok := m.ResolveName("The Crone"); ok || !hidden {
		t.Fatal("renamed hidden entity resolved as live")
	}
	if _, hidden, ok := m.ResolveName("Baba Yaga"); ok || !hidden {
		t.Fatal("original name of hidden entity resolved as live")
	}
}

func TestBuildEntityMap_AliasRemove(t *testing.T) {
	aliases := []models.EntityAlias{{ID: "a1", EntityID: "e1", Alias: "Grandmother"}}
	corrections := []models.Correction{
		approved(1, 0, "e1", models.ActionEntityAliasRemove, models.CorrectionPayload{Alias: "Grandmother"}),
	}
	m := BuildEntityMap(testEntities(), aliases, corrections)

	if _, _, ok := m.ResolveName("Grandmother"); ok {
		t.Fatal("removed alias still resolves")
	}
	if owner, ok := m.RemovedAliasOwner("grandmother"); !ok || owner != "e1" {
		t.Fatalf("RemovedAliasOwner = %q, %v, want e1", owner, ok)
	}
	if got := m.Aliases("e1"); len(got) != 0 {
		t.Fatalf("Aliases(e1) = %v, want empty", got)
	}
}

func TestBuildEntityMap_AliasAddClearsRemoval(t *testing.T) {
	aliases := []models.EntityAlias{{ID: "a1", EntityID: "e1", Alias: "Grandmother"}}
	corrections := []models.Correction{
		approved(1, 0, "e1", models.ActionEntityAliasRemove, models.CorrectionPayload{Alias: "Grandmother"}),
		approved(2, time.Minute, "e2", models.ActionEntityAliasAdd, models.CorrectionPayload{Alias: "Grandmother"}),
	}
	m := BuildEntityMap(testEntities(), aliases, corrections)

	if id, _, ok := m.ResolveName("Grandmother"); !ok || id != "e2" {
		t.Fatalf("ResolveName(Grandmother) = %q, %v, want e2", id, ok)
	}
	if _, ok := m.RemovedAliasOwner("Grandmother"); ok {
		t.Fatal("removal record survived re-add")
	}
}

func TestBuildEntityMap_Deterministic(t *testing.T) {
	entities := testEntities()
	aliases := []models.EntityAlias{
		{ID: "a2", EntityID: "e2", Alias: "Night Mother"},
		{ID: "a1", EntityID: "e1", Alias: "Grandmother"},
	}
	corrections := []models.Correction{
		approved(2, time.Minute, "e2", models.ActionEntityMerge, models.CorrectionPayload{IntoID: "e1"}),
		approved(1, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "The Crone"}),
	}

	want := BuildEntityMap(entities, aliases, corrections).Snapshot()
	for i := 0; i < 10; i++ {
		// Reverse the input order each round; the fold must not care.
		rev := func(n int) []int {
			idx := make([]int, n)
			for j := range idx {
				idx[j] = n - 1 - j
			}
			return idx
		}
		var e2 []models.Entity
		for _, j := range rev(len(entities)) {
			e2 = append(e2, entities[j])
		}
		var a2 []models.EntityAlias
		for _, j := range rev(len(aliases)) {
			a2 = append(a2, aliases[j])
		}
		var c2 []models.Correction
		for _, j := range rev(len(corrections)) {
			c2 = append(c2, corrections[j])
		}
		got := BuildEntityMap(e2, a2, c2).Snapshot()
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d: snapshot diverged\ngot  %+v\nwant %+v", i, got, want)
		}
	}
}

func TestAnnotate(t *testing.T) {
	corrections := []models.Correction{
		approved(1, 0, "e1", models.ActionEntityRename, models.CorrectionPayload{Name: "The Crone"}),
		approved(2, time.Minute, "e2", models.ActionEntityHide, models.CorrectionPayload{}),
	}
	m := BuildEntityMap(testEntities(), nil, corrections)
	out := m.Annotate(testEntities())

	if out[0].CanonicalName != "The Crone" || !out[0].Corrected {
		t.Fatalf("annotated e1 = %+v", out[0])
	}
	if !out[1].Hidden {
		t.Fatalf("annotated e2 = %+v", out[1])
	}
	if out[2].Hidden || out[2].Corrected {
		t.Fatalf("annotated e3 = %+v", out[2])
	}
}

func TestDetectMergeCycle(t *testing.T) {
	mergeMap := map[string]string{"e2": "e1", "e3": "e2"}
	tests := []struct {
		name   string
		source string
		target string
		want   bool
	}{
		{"self merge", "e1", "e1", true},
		{"closes two node cycle", "e1", "e2", true},
		{"closes chain cycle", "e1", "e3", true},
		{"extends chain", "e4", "e3", false},
		{"fresh pair", "e5", "e6", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMergeCycle(mergeMap, tt.source, tt.target); got != tt.want {
				t.Errorf("DetectMergeCycle(%q, %q) = %v, want %v", tt.source, tt.target, got, tt.want)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Baba Yaga", "baba yaga"},
		{"  BABA   yaga  ", "baba yaga"},
		{"the\tCrone", "the crone"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
