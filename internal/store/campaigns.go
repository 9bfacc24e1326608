package store

import (
	"context"
	"database/sql"
	"fmt"

	"lorekeeper/internal/models"
)

// UpsertCampaign creates a campaign by slug, or returns the existing one.
func (s *Store) UpsertCampaign(ctx context.Context, c *models.Campaign) error {
	existing, err := s.GetCampaignBySlug(ctx, c.Slug)
	if err == nil {
		*c = *existing
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, slug, name, system, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Slug, c.Name, nullStr(c.System), c.CreatedAt); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetCampaign fetches one campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, system, created_at FROM campaigns WHERE id = ?`, id)
	var c models.Campaign
	var system sql.NullString
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &system, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	c.System = strOrEmpty(system)
	return &c, nil
}

// GetCampaignBySlug fetches one campaign by its slug.
func (s *Store) GetCampaignBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, system, created_at FROM campaigns WHERE slug = ?`, slug)
	var c models.Campaign
	var system sql.NullString
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &system, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("campaign %s: %w", slug, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	c.System = strOrEmpty(system)
	return &c, nil
}

// ListCampaigns returns all campaigns ordered by creation.
func (s *Store) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, system, created_at FROM campaigns ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		var c models.Campaign
		var system sql.NullString
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &system, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.System = strOrEmpty(system)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertSession creates a session by (campaign, slug), or returns the
// existing one.
func (s *Store) UpsertSession(ctx context.Context, sess *models.Session) error {
	existing, err := s.GetSessionBySlug(ctx, sess.CampaignID, sess.Slug)
	if err == nil {
		*sess = *existing
		return nil
	}
	var num sql.NullInt64
	if sess.SessionNumber != 0 {
		num = sql.NullInt64{Int64: int64(sess.SessionNumber), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, campaign_id, slug, session_number, title, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CampaignID, sess.Slug, num, nullStr(sess.Title), sess.OccurredAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionBySlug fetches one session by campaign and slug.
func (s *Store) GetSessionBySlug(ctx context.Context, campaignID, slug string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, slug, session_number, title, occurred_at
		FROM sessions WHERE campaign_id = ? AND slug = ?`, campaignID, slug)
	return scanSession(row)
}

// GetSession fetches one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, slug, session_number, title, occurred_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns a campaign's sessions ordered by session number.
func (s *Store) ListSessions(ctx context.Context, campaignID string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, slug, session_number, title, occurred_at
		FROM sessions WHERE campaign_id = ?
		ORDER BY session_number, slug`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var num sql.NullInt64
	var title sql.NullString
	var occurred sql.NullTime
	err := row.Scan(&sess.ID, &sess.CampaignID, &sess.Slug, &num, &title, &occurred)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if num.Valid {
		sess.SessionNumber = int(num.Int64)
	}
	sess.Title = strOrEmpty(title)
	if occurred.Valid {
		t := occurred.Time
		sess.OccurredAt = &t
	}
	return &sess, nil
}

// UpsertParticipant creates a participant by (campaign, display name), or
// updates the stored role and speaker aliases of the existing one.
func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	aliases, err := marshalJSON(p.SpeakerAliases)
	if err != nil {
		return fmt.Errorf("failed to encode speaker aliases: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM participants WHERE campaign_id = ? AND display_name = ?`,
		p.CampaignID, p.DisplayName)
	var existingID string
	switch err := row.Scan(&existingID); err {
	case nil:
		p.ID = existingID
		_, err := s.db.ExecContext(ctx, `
			UPDATE participants SET role = ?, speaker_aliases = ? WHERE id = ?`,
			nullStr(string(p.Role)), aliases, p.ID)
		if err != nil {
			return fmt.Errorf("failed to update participant: %w", err)
		}
		return nil
	case sql.ErrNoRows:
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO participants (id, campaign_id, display_name, role, speaker_aliases)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.CampaignID, p.DisplayName, nullStr(string(p.Role)), aliases)
		if err != nil {
			return fmt.Errorf("failed to create participant: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to find participant: %w", err)
	}
}

// ListParticipants returns a campaign's participants.
func (s *Store) ListParticipants(ctx context.Context, campaignID string) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, display_name, role, speaker_aliases
		FROM participants WHERE campaign_id = ? ORDER BY display_name`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		var role, aliases sql.NullString
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.DisplayName, &role, &aliases); err != nil {
			return nil, err
		}
		p.Role = models.Role(strOrEmpty(role))
		if err := unmarshalJSON(aliases, &p.SpeakerAliases); err != nil {
			return nil, fmt.Errorf("failed to decode speaker aliases: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LinkParticipantCharacter records that a participant plays an entity.
func (s *Store) LinkParticipantCharacter(ctx context.Context, pc *models.ParticipantCharacter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO participant_characters (id, participant_id, entity_id)
		VALUES (?, ?, ?)`, pc.ID, pc.ParticipantID, pc.EntityID)
	if err != nil {
		return fmt.Errorf("failed to link participant character: %w", err)
	}
	return nil
}
