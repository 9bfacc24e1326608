// Package ledger is the append-only, attributed, approval-gated store of
// correction events. Corrections are never edited or deleted; reversal is a
// new correction. Only the approved subset feeds canonical-map builds.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/models"
)

// Store is the persistence surface the ledger needs. Implemented by
// internal/store. Mutations run under the store's per-campaign writer lock.
type Store interface {
	AppendCorrection(ctx context.Context, c *models.Correction) error
	GetCorrection(ctx context.Context, id string) (*models.Correction, error)
	DecideCorrection(ctx context.Context, id string, state models.CorrectionState, reviewer string, at time.Time) error
	ListCorrections(ctx context.Context, campaignID string) ([]models.Correction, error)
	ListEntities(ctx context.Context, campaignID string) ([]models.Entity, error)
	ListEntityAliases(ctx context.Context, campaignID string) ([]models.EntityAlias, error)
	ListThreads(ctx context.Context, campaignID string) ([]models.Thread, error)
}

// Ledger validates and records corrections.
type Ledger interface {
	// Submit records a correction. DM-authored corrections are approved
	// immediately (and validated as if approved); player corrections
	// enter pending.
	Submit(ctx context.Context, c models.Correction) (*models.Correction, error)

	// Approve moves a pending correction to approved. DM only.
	Approve(ctx context.Context, id, reviewer string, reviewerRole models.Role) (*models.Correction, error)

	// Reject moves a pending correction to rejected. DM only.
	Reject(ctx context.Context, id, reviewer string, reviewerRole models.Role) (*models.Correction, error)
}

// Config holds ledger wiring.
type Config struct {
	// Invalidate is called with the campaign id after any correction
	// becomes approved, so cached canonical-map snapshots are discarded.
	Invalidate func(campaignID string)

	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
}

// New creates a ledger over the given store.
func New(s Store, cfg *Config) Ledger {
	l := &ledger{store: s, now: time.Now, invalidate: func(string) {}}
	if cfg != nil {
		if cfg.Now != nil {
			l.now = cfg.Now
		}
		if cfg.Invalidate != nil {
			l.invalidate = cfg.Invalidate
		}
	}
	return l
}

type ledger struct {
	store      Store
	now        func() time.Time
	invalidate func(campaignID string)
}

func (l *ledger) Submit(ctx context.Context, c models.Correction) (*models.Correction, error) {
	if err := validateShape(&c); err != nil {
		return nil, err
	}

	c.ID = uuid.NewString()
	c.CreatedAt = l.now()
	c.State = models.CorrectionPending

	if c.CreatedByRole == models.RoleDM {
		// DM corrections take effect immediately, so they face the
		// approval-time checks up front.
		if err := l.validateEffect(ctx, &c); err != nil {
			return nil, err
		}
		c.State = models.CorrectionApproved
		c.ApprovedBy = c.CreatedBy
		at := c.CreatedAt
		c.ApprovedAt = &at
	}

	if err := l.store.AppendCorrection(ctx, &c); err != nil {
		return nil, fmt.Errorf("append correction: %w", err)
	}
	if c.State == models.CorrectionApproved {
		l.invalidate(c.CampaignID)
	}
	return &c, nil
}

func (l *ledger) Approve(ctx context.Context, id, reviewer string, reviewerRole models.Role) (*models.Correction, error) {
	if reviewerRole != models.RoleDM {
		return nil, fmt.Errorf("approve requires DM role: %w", models.ErrNotAuthorized)
	}
	c, err := l.store.GetCorrection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != models.CorrectionPending {
		return nil, fmt.Errorf("correction %s is %s: %w", id, c.State, models.ErrAlreadyDecided)
	}
	if err := l.validateEffect(ctx, c); err != nil {
		return nil, err
	}

	at := l.now()
	if err := l.store.DecideCorrection(ctx, id, models.CorrectionApproved, reviewer, at); err != nil {
		return nil, fmt.Errorf("decide correction: %w", err)
	}
	c.State = models.CorrectionApproved
	c.ApprovedBy = reviewer
	c.ApprovedAt = &at
	l.invalidate(c.CampaignID)
	return c, nil
}

func (l *ledger) Reject(ctx context.Context, id, reviewer string, reviewerRole models.Role) (*models.Correction, error) {
	if reviewerRole != models.RoleDM {
		return nil, fmt.Errorf("reject requires DM role: %w", models.ErrNotAuthorized)
	}
	c, err := l.store.GetCorrection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != models.CorrectionPending {
		return nil, fmt.Errorf("correction %s is %s: %w", id, c.State, models.ErrAlreadyDecided)
	}

	at := l.now()
	if err := l.store.DecideCorrection(ctx, id, models.CorrectionRejected, reviewer, at); err != nil {
		return nil, fmt.Errorf("decide correction: %w", err)
	}
	c.State = models.CorrectionRejected
	c.ApprovedBy = reviewer
	c.ApprovedAt = &at
	return c, nil
}

// validateShape checks fields that are wrong regardless of ledger state.
func validateShape(c *models.Correction) error {
	if c.CampaignID == "" || c.TargetID == "" {
		return fmt.Errorf("campaign and target required: %w", models.ErrInvalidCorrection)
	}
	switch c.TargetType {
	case models.TargetEntity:
		if !c.Action.EntityAction() {
			return fmt.Errorf("action %s does not apply to entities: %w", c.Action, models.ErrInvalidCorrection)
		}
	case models.TargetThread:
		if !c.Action.ThreadAction() {
			return fmt.Errorf("action %s does not apply to threads: %w", c.Action, models.ErrInvalidCorrection)
		}
	default:
		return fmt.Errorf("unknown target type %q: %w", c.TargetType, models.ErrInvalidCorrection)
	}

	switch c.Action {
	case models.ActionEntityRename:
		if c.Payload.Name == "" {
			return fmt.Errorf("rename requires a name: %w", models.ErrInvalidCorrection)
		}
	case models.ActionEntityAliasAdd, models.ActionEntityAliasRemove:
		if c.Payload.Alias == "" {
			return fmt.Errorf("alias action requires an alias: %w", models.ErrInvalidCorrection)
		}
	case models.ActionEntityMerge, models.ActionThreadMerge:
		if c.Payload.IntoID == "" {
			return fmt.Errorf("merge requires a target: %w", models.ErrInvalidCorrection)
		}
	case models.ActionThreadStatus:
		if c.Payload.Status == "" {
			return fmt.Errorf("status update requires a status: %w", models.ErrInvalidCorrection)
		}
	case models.ActionThreadTitle:
		if c.Payload.Title == "" {
			return fmt.Errorf("title update requires a title: %w", models.ErrInvalidCorrection)
		}
	}
	return nil
}

// validateEffect checks the correction against the current approved state:
// merge cycles and removal of a live canonical name can never be approved
// into the map.
func (l *ledger) validateEffect(ctx context.Context, c *models.Correction) error {
	switch c.Action {
	case models.ActionEntityMerge, models.ActionThreadMerge:
		mergeMap, err := l.approvedMergeMap(ctx, c.CampaignID, c.TargetType)
		if err != nil {
			return err
		}
		if canonical.DetectMergeCycle(mergeMap, c.TargetID, c.Payload.IntoID) {
			return fmt.Errorf("merge %s -> %s: %w", c.TargetID, c.Payload.IntoID, models.ErrCycleDetected)
		}

	case models.ActionEntityAliasRemove:
		m, err := l.entityMap(ctx, c.CampaignID)
		if err != nil {
			return err
		}
		name, ok := m.CanonicalName(c.TargetID)
		if ok && canonical.NormalizeKey(name) == canonical.NormalizeKey(c.Payload.Alias) {
			return fmt.Errorf("alias %q is the active canonical name of %s: %w",
				c.Payload.Alias, c.TargetID, models.ErrInvalidCorrection)
		}
	}
	return nil
}

func (l *ledger) entityMap(ctx context.Context, campaignID string) (*canonical.EntityMap, error) {
	entities, err := l.store.ListEntities(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	aliases, err := l.store.ListEntityAliases(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	corrections, err := l.store.ListCorrections(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return canonical.BuildEntityMap(entities, aliases, corrections), nil
}

func (l *ledger) approvedMergeMap(ctx context.Context, campaignID string, target models.TargetType) (map[string]string, error) {
	corrections, err := l.store.ListCorrections(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	mergeMap := make(map[string]string)
	for _, c := range canonical.SortCorrections(corrections) {
		if !c.Effective() || c.TargetType != target {
			continue
		}
		switch c.Action {
		case models.ActionEntityMerge, models.ActionThreadMerge:
			mergeMap[c.TargetID] = c.Payload.IntoID
		case models.ActionEntityUnmerge, models.ActionThreadUnmerge:
			delete(mergeMap, c.TargetID)
		}
	}
	return mergeMap, nil
}
