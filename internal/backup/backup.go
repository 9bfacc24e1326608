// Package backup exports and restores a campaign's canonical lore: the
// campaign record, entities, aliases, threads, and the full correction
// ledger. Archives are plain JSON so they survive schema migrations and
// can move between tables.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lorekeeper/internal/models"
)

// ArchiveVersion is written into every archive.
const ArchiveVersion = 1

const backupPrefix = "lorekeeper-backup-"

// Store is the persistence surface backup needs.
type Store interface {
	GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error)
	UpsertCampaign(ctx context.Context, c *models.Campaign) error
	ListEntities(ctx context.Context, campaignID string) ([]models.Entity, error)
	CreateEntity(ctx context.Context, e *models.Entity) error
	ListEntityAliases(ctx context.Context, campaignID string) ([]models.EntityAlias, error)
	AddEntityAlias(ctx context.Context, a *models.EntityAlias) error
	ListThreads(ctx context.Context, campaignID string) ([]models.Thread, error)
	CreateThread(ctx context.Context, t *models.Thread) error
	ListCorrections(ctx context.Context, campaignID string) ([]models.Correction, error)
	GetCorrection(ctx context.Context, id string) (*models.Correction, error)
	AppendCorrection(ctx context.Context, c *models.Correction) error
}

// Archive is one exported campaign.
type Archive struct {
	Version     int                  `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
	Campaign    models.Campaign      `json:"campaign"`
	Entities    []models.Entity      `json:"entities"`
	Aliases     []models.EntityAlias `json:"aliases"`
	Threads     []models.Thread      `json:"threads"`
	Corrections []models.Correction  `json:"corrections"`
}

// RestoreMode controls collision handling during restore.
type RestoreMode string

// RestoreMerge keeps existing records and only adds missing ones. The
// correction ledger is append-only, so there is no overwrite mode.
const RestoreMerge RestoreMode = "merge"

// Result reports what a restore did.
type Result struct {
	EntitiesRestored    int `json:"entities_restored"`
	EntitiesSkipped     int `json:"entities_skipped"`
	AliasesRestored     int `json:"aliases_restored"`
	ThreadsRestored     int `json:"threads_restored"`
	ThreadsSkipped      int `json:"threads_skipped"`
	CorrectionsRestored int `json:"corrections_restored"`
	CorrectionsSkipped  int `json:"corrections_skipped"`
}

// Backup exports one campaign to a JSON archive at path.
func Backup(ctx context.Context, s Store, campaignSlug, path string) (*Archive, error) {
	campaign, err := s.GetCampaignBySlug(ctx, campaignSlug)
	if err != nil {
		return nil, err
	}
	entities, err := s.ListEntities(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	aliases, err := s.ListEntityAliases(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	threads, err := s.ListThreads(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	corrections, err := s.ListCorrections(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	archive := &Archive{
		Version:     ArchiveVersion,
		CreatedAt:   time.Now().UTC(),
		Campaign:    *campaign,
		Entities:    entities,
		Aliases:     aliases,
		Threads:     threads,
		Corrections: corrections,
	}
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}
	return archive, nil
}

// Restore loads an archive into the store. Correction order is preserved:
// the archive lists corrections in ledger order and they are appended in
// that order, so the restored fold matches the original.
func Restore(ctx context.Context, s Store, path string, mode RestoreMode) (*Result, error) {
	if mode != RestoreMerge {
		return nil, fmt.Errorf("unknown restore mode %q", mode)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("failed to parse archive: %w", err)
	}
	if archive.Version != ArchiveVersion {
		return nil, fmt.Errorf("unsupported archive version %d", archive.Version)
	}

	// UpsertCampaign keeps an existing campaign with the same slug, so
	// every restored row is remapped to the id that actually landed.
	campaign := archive.Campaign
	if err := s.UpsertCampaign(ctx, &campaign); err != nil {
		return nil, err
	}

	result := &Result{}

	existingEntities, err := s.ListEntities(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	haveEntity := make(map[string]bool, len(existingEntities))
	for _, e := range existingEntities {
		haveEntity[e.ID] = true
	}
	for _, e := range archive.Entities {
		if haveEntity[e.ID] {
			result.EntitiesSkipped++
			continue
		}
		e.CampaignID = campaign.ID
		if err := s.CreateEntity(ctx, &e); err != nil {
			return nil, err
		}
		result.EntitiesRestored++
	}

	existingAliases, err := s.ListEntityAliases(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	haveAlias := make(map[string]bool, len(existingAliases))
	for _, a := range existingAliases {
		haveAlias[a.EntityID+"\x00"+a.Alias] = true
	}
	for _, a := range archive.Aliases {
		if haveAlias[a.EntityID+"\x00"+a.Alias] {
			continue
		}
		if err := s.AddEntityAlias(ctx, &a); err != nil {
			return nil, err
		}
		result.AliasesRestored++
	}

	existingThreads, err := s.ListThreads(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	haveThread := make(map[string]bool, len(existingThreads))
	for _, t := range existingThreads {
		haveThread[t.ID] = true
	}
	for _, t := range archive.Threads {
		if haveThread[t.ID] {
			result.ThreadsSkipped++
			continue
		}
		t.CampaignID = campaign.ID
		// The originating run and session are not in the archive;
		// restored threads keep their identity but drop provenance.
		t.RunID = ""
		t.SessionID = ""
		if err := s.CreateThread(ctx, &t); err != nil {
			return nil, err
		}
		result.ThreadsRestored++
	}

	for _, c := range archive.Corrections {
		_, err := s.GetCorrection(ctx, c.ID)
		if err == nil {
			result.CorrectionsSkipped++
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		c.CampaignID = campaign.ID
		if err := s.AppendCorrection(ctx, &c); err != nil {
			return nil, err
		}
		result.CorrectionsRestored++
	}

	return result, nil
}

// GenerateBackupPath returns a timestamped archive path under dir.
func GenerateBackupPath(dir string) string {
	name := backupPrefix + time.Now().Format("20060102-150405") + ".json"
	return filepath.Join(dir, name)
}

// RotateBackups deletes the oldest archives in dir, keeping the newest
// keep files. Timestamped names sort lexically, so name order is age
// order.
func RotateBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
