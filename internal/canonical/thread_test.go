package canonical

import (
	"testing"
	"time"

	"lorekeeper/internal/models"
)

func threadCorrection(seq int64, offset time.Duration, target string, action models.Action, payload models.CorrectionPayload) models.Correction {
	c := approved(seq, offset, target, action, payload)
	c.TargetType = models.TargetThread
	return c
}

func testThreads() []models.Thread {
	return []models.Thread{
		{ID: "t1", CampaignID: "camp1", Title: "Lift the curse", Kind: "quest", Status: "open"},
		{ID: "t2", CampaignID: "camp1", Title: "Find the amulet", Kind: "quest", Status: "open"},
	}
}

func TestBuildThreadMap_Base(t *testing.T) {
	m := BuildThreadMap(testThreads(), nil)
	id, hidden, ok := m.ResolveTitle("LIFT the  curse")
	if !ok || hidden || id != "t1" {
		t.Fatalf("ResolveTitle = %q, %v, %v, want t1", id, hidden, ok)
	}
	if _, _, ok := m.ResolveTitle("Slay the dragon"); ok {
		t.Fatal("unknown title resolved")
	}
}

func TestBuildThreadMap_Overrides(t *testing.T) {
	corrections := []models.Correction{
		threadCorrection(1, 0, "t1", models.ActionThreadStatus, models.CorrectionPayload{Status: "resolved"}),
		threadCorrection(2, time.Minute, "t1", models.ActionThreadTitle, models.CorrectionPayload{Title: "Break the curse"}),
		threadCorrection(3, 2*time.Minute, "t1", models.ActionThreadSummary, models.CorrectionPayload{Summary: ""}),
	}
	m := BuildThreadMap(testThreads(), corrections)

	base := testThreads()[0]
	base.Summary = "stale summary"
	got := m.Apply(base)
	if got.Status != "resolved" || got.Title != "Break the curse" {
		t.Fatalf("Apply = %+v", got)
	}
	if got.Summary != "" {
		t.Fatalf("summary override did not clear: %q", got.Summary)
	}
	if !got.Corrected {
		t.Fatal("Corrected = false")
	}
	// The corrected title resolves too.
	if id, _, ok := m.ResolveTitle("break the curse"); !ok || id != "t1" {
		t.Fatalf("corrected title lookup = %q, %v, want t1", id, ok)
	}
}

func TestBuildThreadMap_LaterStatusWins(t *testing.T) {
	corrections := []models.Correction{
		threadCorrection(2, time.Hour, "t1", models.ActionThreadStatus, models.CorrectionPayload{Status: "abandoned"}),
		threadCorrection(1, 0, "t1", models.ActionThreadStatus, models.CorrectionPayload{Status: "resolved"}),
	}
	m := BuildThreadMap(testThreads(), corrections)
	if got := m.Apply(testThreads()[0]); got.Status != "abandoned" {
		t.Fatalf("Status = %q, want abandoned", got.Status)
	}
}

func TestBuildThreadMap_MergeHidesSource(t *testing.T) {
	corrections := []models.Correction{
		threadCorrection(1, 0, "t2", models.ActionThreadMerge, models.CorrectionPayload{IntoID: "t1"}),
	}
	m := BuildThreadMap(testThreads(), corrections)

	if !m.Hidden("t2") {
		t.Fatal("merge source not hidden")
	}
	// The source title now resolves to the survivor.
	if id, _, ok := m.ResolveTitle("Find the amulet"); !ok || id != "t1" {
		t.Fatalf("ResolveTitle(Find the amulet) = %q, %v, want t1", id, ok)
	}
	got := m.Apply(testThreads()[1])
	if !got.Hidden || got.MergedInto != "t1" {
		t.Fatalf("Apply(t2) = %+v", got)
	}
}

func TestBuildThreadMap_UnmergeRestores(t *testing.T) {
	corrections := []models.Correction{
		threadCorrection(1, 0, "t2", models.ActionThreadMerge, models.CorrectionPayload{IntoID: "t1"}),
		threadCorrection(2, time.Minute, "t2", models.ActionThreadUnmerge, models.CorrectionPayload{}),
	}
	m := BuildThreadMap(testThreads(), corrections)
	if m.Hidden("t2") {
		t.Fatal("unmerged thread still hidden")
	}
	if id, _, ok := m.ResolveTitle("Find the amulet"); !ok || id != "t2" {
		t.Fatalf("ResolveTitle = %q, %v, want t2", id, ok)
	}
}

func TestBuildThreadMap_HiddenResolution(t *testing.T) {
	corrections := []models.Correction{
		threadCorrection(1, 0, "t1", models.ActionThreadHide, models.CorrectionPayload{}),
	}
	m := BuildThreadMap(testThreads(), corrections)
	id, hidden, ok := m.ResolveTitle("Lift the curse")
	if ok || !hidden {
		t.Fatalf("ResolveTitle = %q, hidden=%v, ok=%v, want hidden", id, hidden, ok)
	}
}

func TestBuildThreadMap_IgnoresEntityCorrections(t *testing.T) {
	corrections := []models.Correction{
		approved(1, 0, "t1", models.ActionEntityHide, models.CorrectionPayload{}),
	}
	m := BuildThreadMap(testThreads(), corrections)
	if m.Hidden("t1") {
		t.Fatal("entity correction applied to thread map")
	}
}
