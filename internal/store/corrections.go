package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"lorekeeper/internal/models"
)

// AppendCorrection inserts a ledger row and assigns Seq from the rowid.
// Corrections are append-only; there is no update or delete path here.
func (s *Store) AppendCorrection(ctx context.Context, c *models.Correction) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode correction payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (id, campaign_id, session_id, target_type, target_id,
			action, payload, created_by, created_by_role, created_at, seq, state,
			approved_by, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		c.ID, c.CampaignID, nullStr(c.SessionID), string(c.TargetType), c.TargetID,
		string(c.Action), string(payload), c.CreatedBy, string(c.CreatedByRole),
		c.CreatedAt, string(c.State), nullStr(c.ApprovedBy), c.ApprovedAt)
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read correction seq: %w", err)
	}
	c.Seq = seq
	if _, err := s.db.ExecContext(ctx,
		`UPDATE corrections SET seq = ? WHERE id = ?`, seq, c.ID); err != nil {
		return fmt.Errorf("failed to record correction seq: %w", err)
	}
	return nil
}

// GetCorrection fetches one correction by ID.
func (s *Store) GetCorrection(ctx context.Context, id string) (*models.Correction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, session_id, target_type, target_id, action, payload,
			created_by, created_by_role, created_at, seq, state, approved_by, approved_at
		FROM corrections WHERE id = ?`, id)
	c, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("correction %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	return c, nil
}

// DecideCorrection transitions a correction's review state. The caller is
// responsible for pending-state and authorization checks; this writes the
// decision unconditionally.
func (s *Store) DecideCorrection(ctx context.Context, id string, state models.CorrectionState, reviewer string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE corrections SET state = ?, approved_by = ?, approved_at = ?
		WHERE id = ?`, string(state), reviewer, at, id)
	if err != nil {
		return fmt.Errorf("failed to decide correction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("correction %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListCorrections returns all corrections for a campaign in ledger order.
func (s *Store) ListCorrections(ctx context.Context, campaignID string) ([]models.Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, session_id, target_type, target_id, action, payload,
			created_by, created_by_role, created_at, seq, state, approved_by, approved_at
		FROM corrections WHERE campaign_id = ?
		ORDER BY created_at, seq`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()

	var out []models.Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListPendingCorrections returns the review queue for a campaign.
func (s *Store) ListPendingCorrections(ctx context.Context, campaignID string) ([]models.Correction, error) {
	all, err := s.ListCorrections(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var out []models.Correction
	for _, c := range all {
		if c.State == models.CorrectionPending {
			out = append(out, c)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCorrection(row rowScanner) (*models.Correction, error) {
	var c models.Correction
	var sessionID, approvedBy sql.NullString
	var approvedAt sql.NullTime
	var payload string
	err := row.Scan(&c.ID, &c.CampaignID, &sessionID, &c.TargetType, &c.TargetID,
		&c.Action, &payload, &c.CreatedBy, &c.CreatedByRole, &c.CreatedAt,
		&c.Seq, &c.State, &approvedBy, &approvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode correction payload: %w", err)
	}
	c.SessionID = strOrEmpty(sessionID)
	c.ApprovedBy = strOrEmpty(approvedBy)
	if approvedAt.Valid {
		t := approvedAt.Time
		c.ApprovedAt = &t
	}
	return &c, nil
}
