package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/models"
	"lorekeeper/internal/store"
)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCampaign(t *testing.T, s *store.Store) (*models.Campaign, *models.Entity) {
	t.Helper()
	ctx := context.Background()

	campaign := &models.Campaign{
		ID:        uuid.NewString(),
		Slug:      "ravenloft",
		Name:      "Curse of Strahd",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertCampaign(ctx, campaign); err != nil {
		t.Fatalf("UpsertCampaign() error = %v", err)
	}

	entity := &models.Entity{
		ID:            uuid.NewString(),
		CampaignID:    campaign.ID,
		Type:          models.EntityCharacter,
		CanonicalName: "Baba Yaga",
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	if err := s.AddEntityAlias(ctx, &models.EntityAlias{
		ID:       uuid.NewString(),
		EntityID: entity.ID,
		Alias:    "The Crone",
	}); err != nil {
		t.Fatalf("AddEntityAlias() error = %v", err)
	}

	session := &models.Session{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		Slug:       "session-12",
	}
	if err := s.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	run := &models.Run{
		ID:             uuid.NewString(),
		CampaignID:     campaign.ID,
		SessionID:      session.ID,
		TranscriptHash: "abc123",
		PromptVersion:  "v1",
		Model:          "gemini-2.5-flash",
		Status:         models.RunCompleted,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	// Provenance that is deliberately absent from the archive; restore
	// must not carry it into a store that lacks the run and session.
	if err := s.CreateThread(ctx, &models.Thread{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		RunID:      run.ID,
		SessionID:  session.ID,
		Title:      "Lift the curse",
		Kind:       "quest",
		Status:     models.ThreadActive,
	}); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	if err := s.AppendCorrection(ctx, &models.Correction{
		ID:            uuid.NewString(),
		CampaignID:    campaign.ID,
		TargetType:    models.TargetEntity,
		TargetID:      entity.ID,
		Action:        models.ActionEntityRename,
		Payload:       models.CorrectionPayload{Name: "Granny Nightshade"},
		CreatedBy:     "sarah",
		CreatedByRole: models.RoleDM,
		CreatedAt:     time.Now().UTC(),
		State:         models.CorrectionApproved,
	}); err != nil {
		t.Fatalf("AppendCorrection() error = %v", err)
	}

	return campaign, entity
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	srcStore := createTestStore(t)
	_, entity := seedCampaign(t, srcStore)

	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "test-backup.json")

	archive, err := Backup(ctx, srcStore, "ravenloft", backupPath)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	if archive.Version != 1 {
		t.Errorf("Version = %d, want 1", archive.Version)
	}
	if len(archive.Entities) != 1 {
		t.Errorf("Entities = %d, want 1", len(archive.Entities))
	}
	if len(archive.Aliases) != 1 {
		t.Errorf("Aliases = %d, want 1", len(archive.Aliases))
	}
	if len(archive.Threads) != 1 {
		t.Errorf("Threads = %d, want 1", len(archive.Threads))
	}
	if len(archive.Corrections) != 1 {
		t.Errorf("Corrections = %d, want 1", len(archive.Corrections))
	}

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		t.Fatal("backup file was not created")
	}

	// Restore into an empty store
	dstStore := createTestStore(t)

	result, err := Restore(ctx, dstStore, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if result.EntitiesRestored != 1 {
		t.Errorf("EntitiesRestored = %d, want 1", result.EntitiesRestored)
	}
	if result.AliasesRestored != 1 {
		t.Errorf("AliasesRestored = %d, want 1", result.AliasesRestored)
	}
	if result.ThreadsRestored != 1 {
		t.Errorf("ThreadsRestored = %d, want 1", result.ThreadsRestored)
	}
	if result.CorrectionsRestored != 1 {
		t.Errorf("CorrectionsRestored = %d, want 1", result.CorrectionsRestored)
	}

	got, err := dstStore.GetEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.CanonicalName != "Baba Yaga" {
		t.Errorf("CanonicalName = %q, want %q", got.CanonicalName, "Baba Yaga")
	}

	restored, err := dstStore.GetCampaignBySlug(ctx, "ravenloft")
	if err != nil {
		t.Fatalf("GetCampaignBySlug() error = %v", err)
	}
	threads, err := dstStore.ListThreads(ctx, restored.ID)
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("threads = %d, want 1", len(threads))
	}
	if threads[0].RunID != "" || threads[0].SessionID != "" {
		t.Errorf("restored thread kept provenance run=%q session=%q, want none",
			threads[0].RunID, threads[0].SessionID)
	}
}

func TestRestore_MergeSkipsExisting(t *testing.T) {
	srcStore := createTestStore(t)
	seedCampaign(t, srcStore)

	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "test-backup.json")

	if _, err := Backup(ctx, srcStore, "ravenloft", backupPath); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	// Restoring into the source store should change nothing.
	result, err := Restore(ctx, srcStore, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.EntitiesRestored != 0 || result.EntitiesSkipped != 1 {
		t.Errorf("entities restored/skipped = %d/%d, want 0/1",
			result.EntitiesRestored, result.EntitiesSkipped)
	}
	if result.ThreadsRestored != 0 || result.ThreadsSkipped != 1 {
		t.Errorf("threads restored/skipped = %d/%d, want 0/1",
			result.ThreadsRestored, result.ThreadsSkipped)
	}
	if result.CorrectionsRestored != 0 || result.CorrectionsSkipped != 1 {
		t.Errorf("corrections restored/skipped = %d/%d, want 0/1",
			result.CorrectionsRestored, result.CorrectionsSkipped)
	}

	corrections, err := srcStore.ListCorrections(ctx, mustCampaign(t, srcStore).ID)
	if err != nil {
		t.Fatalf("ListCorrections() error = %v", err)
	}
	if len(corrections) != 1 {
		t.Errorf("corrections = %d, want 1 (ledger must not grow on merge)", len(corrections))
	}
}

func mustCampaign(t *testing.T, s *store.Store) *models.Campaign {
	t.Helper()
	c, err := s.GetCampaignBySlug(context.Background(), "ravenloft")
	if err != nil {
		t.Fatalf("GetCampaignBySlug() error = %v", err)
	}
	return c
}

func TestRestore_UnknownMode(t *testing.T) {
	s := createTestStore(t)
	if _, err := Restore(context.Background(), s, "nope.json", RestoreMode("overwrite")); err == nil {
		t.Error("expected error for unknown restore mode")
	}
}

func TestRotateBackups(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 5; i++ {
		name := backupPrefix + "2026020" + string(rune('1'+i)) + "-120000.json"
		os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644)
	}

	if err := RotateBackups(dir, 3); err != nil {
		t.Fatalf("RotateBackups() error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	jsonCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			jsonCount++
		}
	}
	if jsonCount != 3 {
		t.Errorf("after rotation, got %d files, want 3", jsonCount)
	}

	// The newest must survive.
	newest := backupPrefix + "20260205-120000.json"
	if _, err := os.Stat(filepath.Join(dir, newest)); os.IsNotExist(err) {
		t.Errorf("newest backup %s was removed", newest)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	dir := "/tmp/backups"
	path := GenerateBackupPath(dir)

	if filepath.Dir(path) != dir {
		t.Errorf("dir = %s, want %s", filepath.Dir(path), dir)
	}
	if filepath.Ext(path) != ".json" {
		t.Errorf("ext = %s, want .json", filepath.Ext(path))
	}
}
