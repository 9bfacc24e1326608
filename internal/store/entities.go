package store

import (
	"context"
	"database/sql"
	"fmt"

	"lorekeeper/internal/models"
)

// CreateEntity inserts a canonical entity row.
func (s *Store) CreateEntity(ctx context.Context, e *models.Entity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, campaign_id, entity_type, canonical_name,
			description, character_kind, owner_participant_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, string(e.Type), e.CanonicalName,
		nullStr(e.Description), nullStr(e.CharacterKind),
		nullStr(e.OwnerParticipantID), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// GetEntity fetches one entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, entity_type, canonical_name, description,
			character_kind, owner_participant_id, created_at
		FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// ListEntities returns all of a campaign's entities, including hidden and
// merged ones. Soft states come from the canonical map, not from here.
func (s *Store) ListEntities(ctx context.Context, campaignID string) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, entity_type, canonical_name, description,
			character_kind, owner_participant_id, created_at
		FROM entities WHERE campaign_id = ?
		ORDER BY canonical_name`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var desc, kind, owner sql.NullString
	err := row.Scan(&e.ID, &e.CampaignID, &e.Type, &e.CanonicalName,
		&desc, &kind, &owner, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Description = strOrEmpty(desc)
	e.CharacterKind = strOrEmpty(kind)
	e.OwnerParticipantID = strOrEmpty(owner)
	return &e, nil
}

// AddEntityAlias records an alias for an entity. Duplicate aliases on the
// same entity are ignored.
func (s *Store) AddEntityAlias(ctx context.Context, a *models.EntityAlias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_aliases (id, entity_id, alias)
		VALUES (?, ?, ?)`, a.ID, a.EntityID, a.Alias)
	if err != nil {
		return fmt.Errorf("failed to add entity alias: %w", err)
	}
	return nil
}

// ListEntityAliases returns all stored alias rows for a campaign's entities.
func (s *Store) ListEntityAliases(ctx context.Context, campaignID string) ([]models.EntityAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.entity_id, a.alias
		FROM entity_aliases a
		JOIN entities e ON e.id = a.entity_id
		WHERE e.campaign_id = ?
		ORDER BY a.entity_id, a.alias`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity aliases: %w", err)
	}
	defer rows.Close()

	var out []models.EntityAlias
	for rows.Next() {
		var a models.EntityAlias
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Alias); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LinkMention records a resolved mention-to-entity link for a run.
func (s *Store) LinkMention(ctx context.Context, runID, sessionID, mentionID, entityID string) error {
	id := mentionID + ":" + entityID
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_mentions (id, run_id, session_id, mention_id, entity_id)
		VALUES (?, ?, ?, ?, ?)`, id, runID, sessionID, mentionID, entityID)
	if err != nil {
		return fmt.Errorf("failed to link mention: %w", err)
	}
	return nil
}

// CountEntityMentions returns the number of mention links per entity for a
// campaign. Used by the entities read path.
func (s *Store) CountEntityMentions(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.entity_id, COUNT(*)
		FROM entity_mentions m
		JOIN entities e ON e.id = m.entity_id
		WHERE e.campaign_id = ?
		GROUP BY m.entity_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entity mentions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
