package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lorekeeper/internal/models"
)

// CreateRun inserts a run row keyed by its idempotency key.
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, campaign_id, session_id, transcript_hash,
			prompt_version, model, status, reason, idempotency_key, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CampaignID, r.SessionID, r.TranscriptHash,
		r.PromptVersion, r.Model, string(r.Status), nullStr(r.Reason),
		r.Key().String(), r.CreatedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun fetches a run with its steps.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, session_id, transcript_hash, prompt_version,
			model, status, reason, created_at, finished_at
		FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if r.Steps, err = s.listRunSteps(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRunByKey fetches the most recent run matching an idempotency key,
// with steps. Forced reprocessing inserts a fresh run under the same key,
// so a key can map to several runs; the newest one is the live answer.
func (s *Store) GetRunByKey(ctx context.Context, key models.RunKey) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, session_id, transcript_hash, prompt_version,
			model, status, reason, created_at, finished_at
		FROM runs WHERE idempotency_key = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, key.String())
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run for key: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run by key: %w", err)
	}
	if r.Steps, err = s.listRunSteps(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// GetLiveRunForSession returns the session's running run, if any. At most
// one exists at a time.
func (s *Store) GetLiveRunForSession(ctx context.Context, sessionID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, session_id, transcript_hash, prompt_version,
			model, status, reason, created_at, finished_at
		FROM runs WHERE session_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`, sessionID, string(models.RunRunning))
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("live run for session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live run: %w", err)
	}
	return r, nil
}

// ListRuns returns a campaign's runs, newest first, with steps. An empty
// campaignID lists runs across all campaigns.
func (s *Store) ListRuns(ctx context.Context, campaignID string) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, session_id, transcript_hash, prompt_version,
			model, status, reason, created_at, finished_at
		FROM runs WHERE (? = '' OR campaign_id = ?)
		ORDER BY created_at DESC`, campaignID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Steps, err = s.listRunSteps(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateRunStatus writes a whole-run status transition. The controller
// validates transitions; this records them.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, reason string, finishedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, reason = ?, finished_at = ? WHERE id = ?`,
		string(status), nullStr(reason), finishedAt, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, models.ErrNotFound)
	}
	return nil
}

// AppendRunStep inserts a new step attempt row. Existing rows are never
// touched.
func (s *Store) AppendRunStep(ctx context.Context, step *models.RunStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_steps (id, run_id, name, status, attempt, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.Name, string(step.Status), step.Attempt,
		step.StartedAt, step.FinishedAt, nullStr(step.Error))
	if err != nil {
		return fmt.Errorf("failed to append run step: %w", err)
	}
	return nil
}

// FinishRunStep sets the terminal status of one step attempt.
func (s *Store) FinishRunStep(ctx context.Context, stepID string, status models.StepStatus, errText string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_steps SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), nullStr(errText), at, stepID)
	if err != nil {
		return fmt.Errorf("failed to finish run step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run step %s: %w", stepID, models.ErrNotFound)
	}
	return nil
}

func (s *Store) listRunSteps(ctx context.Context, runID string) ([]models.RunStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, name, status, attempt, started_at, finished_at, error
		FROM run_steps WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var out []models.RunStep
	for rows.Next() {
		var step models.RunStep
		var finished sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(&step.ID, &step.RunID, &step.Name, &step.Status,
			&step.Attempt, &step.StartedAt, &finished, &errText); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			step.FinishedAt = &t
		}
		step.Error = strOrEmpty(errText)
		out = append(out, step)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*models.Run, error) {
	var r models.Run
	var reason sql.NullString
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.CampaignID, &r.SessionID, &r.TranscriptHash,
		&r.PromptVersion, &r.Model, &r.Status, &reason, &r.CreatedAt, &finished)
	if err != nil {
		return nil, err
	}
	r.Reason = strOrEmpty(reason)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
