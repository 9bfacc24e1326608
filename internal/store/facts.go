package store

import (
	"context"
	"database/sql"
	"fmt"

	"lorekeeper/internal/models"
)

// SaveUtterances inserts a session's utterances in one transaction.
// Re-ingesting the same session replaces its utterances wholesale so that
// evidence offsets always match the stored text. Quotes anchored to the
// old utterances go with them: their offsets are meaningless against the
// replacement text, and a reprocessing run rewrites them.
func (s *Store) SaveUtterances(ctx context.Context, sessionID string, utterances []models.Utterance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quotes WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear quotes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM utterances WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear utterances: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO utterances (id, session_id, participant_id, start_ms, end_ms, speaker_raw, text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, u := range utterances {
		if _, err := stmt.ExecContext(ctx, u.ID, u.SessionID, u.ParticipantID,
			u.StartMS, u.EndMS, nullStr(u.SpeakerRaw), u.Text); err != nil {
			return fmt.Errorf("failed to save utterance %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// GetUtterance fetches one utterance by ID.
func (s *Store) GetUtterance(ctx context.Context, id string) (*models.Utterance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, participant_id, start_ms, end_ms, speaker_raw, text
		FROM utterances WHERE id = ?`, id)
	var u models.Utterance
	var speaker sql.NullString
	err := row.Scan(&u.ID, &u.SessionID, &u.ParticipantID, &u.StartMS, &u.EndMS, &speaker, &u.Text)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("utterance %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get utterance: %w", err)
	}
	u.SpeakerRaw = strOrEmpty(speaker)
	return &u, nil
}

// ListUtterances returns a session's utterances in time order.
func (s *Store) ListUtterances(ctx context.Context, sessionID string) ([]models.Utterance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, participant_id, start_ms, end_ms, speaker_raw, text
		FROM utterances WHERE session_id = ? ORDER BY start_ms, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}
	defer rows.Close()

	var out []models.Utterance
	for rows.Next() {
		var u models.Utterance
		var speaker sql.NullString
		if err := rows.Scan(&u.ID, &u.SessionID, &u.ParticipantID,
			&u.StartMS, &u.EndMS, &speaker, &u.Text); err != nil {
			return nil, err
		}
		u.SpeakerRaw = strOrEmpty(speaker)
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveMentions inserts a run's raw mentions in one transaction.
func (s *Store) SaveMentions(ctx context.Context, mentions []models.Mention) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mentions (id, run_id, session_id, text, entity_type, description, evidence, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range mentions {
		evidence, err := marshalJSON(m.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.RunID, m.SessionID, m.Text,
			string(m.EntityType), nullStr(m.Description), evidence,
			nullFloat(m.Confidence)); err != nil {
			return fmt.Errorf("failed to save mention %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMentions returns a run's raw mentions.
func (s *Store) ListMentions(ctx context.Context, runID string) ([]models.Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.run_id, m.session_id, m.text, m.entity_type, m.description,
			m.evidence, m.confidence, em.entity_id
		FROM mentions m
		LEFT JOIN entity_mentions em ON em.mention_id = m.id
		WHERE m.run_id = ? ORDER BY m.id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	defer rows.Close()

	var out []models.Mention
	for rows.Next() {
		var m models.Mention
		var desc, evidence, resolved sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.RunID, &m.SessionID, &m.Text, &m.EntityType,
			&desc, &evidence, &conf, &resolved); err != nil {
			return nil, err
		}
		m.Description = strOrEmpty(desc)
		if err := unmarshalJSON(evidence, &m.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence: %w", err)
		}
		m.Confidence = floatPtr(conf)
		m.ResolvedEntityID = strOrEmpty(resolved)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveScenes inserts a run's scenes.
func (s *Store) SaveScenes(ctx context.Context, scenes []models.Scene) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scenes (id, run_id, session_id, title, summary, location,
			start_ms, end_ms, participants, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, sc := range scenes {
		participants, err := marshalJSON(sc.Participants)
		if err != nil {
			return fmt.Errorf("failed to encode participants: %w", err)
		}
		evidence, err := marshalJSON(sc.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sc.ID, sc.RunID, sc.SessionID,
			nullStr(sc.Title), sc.Summary, nullStr(sc.Location),
			sc.StartMS, sc.EndMS, participants, evidence); err != nil {
			return fmt.Errorf("failed to save scene %s: %w", sc.ID, err)
		}
	}
	return tx.Commit()
}

// SaveEvents inserts a run's events.
func (s *Store) SaveEvents(ctx context.Context, events []models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, run_id, session_id, event_type, summary,
			start_ms, end_ms, entities, evidence, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		entities, err := marshalJSON(ev.Entities)
		if err != nil {
			return fmt.Errorf("failed to encode entities: %w", err)
		}
		evidence, err := marshalJSON(ev.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.RunID, ev.SessionID,
			ev.EventType, ev.Summary, ev.StartMS, ev.EndMS,
			entities, evidence, nullFloat(ev.Confidence)); err != nil {
			return fmt.Errorf("failed to save event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// ListEvents returns a run's events in time order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, session_id, event_type, summary, start_ms, end_ms,
			entities, evidence, confidence
		FROM events WHERE run_id = ? ORDER BY start_ms, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var entities, evidence sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.SessionID, &ev.EventType,
			&ev.Summary, &ev.StartMS, &ev.EndMS, &entities, &evidence, &conf); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(entities, &ev.Entities); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(evidence, &ev.Evidence); err != nil {
			return nil, err
		}
		ev.Confidence = floatPtr(conf)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveQuotes inserts a run's validated quotes. Only quotes that passed the
// evidence validator belong here.
func (s *Store) SaveQuotes(ctx context.Context, quotes []models.Quote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quotes (id, run_id, session_id, utterance_id, char_start, char_end, text, speaker, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.ExecContext(ctx, q.ID, q.RunID, q.SessionID, q.UtteranceID,
			q.CharStart, q.CharEnd, q.Text, nullStr(q.Speaker), nullStr(q.Note)); err != nil {
			return fmt.Errorf("failed to save quote %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

// ListQuotes returns a session's quotes. Empty sessionID lists every quote
// in the database, which the audit command uses.
func (s *Store) ListQuotes(ctx context.Context, sessionID string) ([]models.Quote, error) {
	query := `
		SELECT id, run_id, session_id, utterance_id, char_start, char_end, text, speaker, note
		FROM quotes`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY session_id, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	defer rows.Close()

	var out []models.Quote
	for rows.Next() {
		var q models.Quote
		var speaker, note sql.NullString
		if err := rows.Scan(&q.ID, &q.RunID, &q.SessionID, &q.UtteranceID,
			&q.CharStart, &q.CharEnd, &q.Text, &speaker, &note); err != nil {
			return nil, err
		}
		q.Speaker = strOrEmpty(speaker)
		q.Note = strOrEmpty(note)
		out = append(out, q)
	}
	return out, rows.Err()
}

// CreateThread inserts a thread row. A thread outlives whatever run first
// discovered it, so the run and session references are optional provenance:
// restored threads carry neither.
func (s *Store) CreateThread(ctx context.Context, t *models.Thread) error {
	evidence, err := marshalJSON(t.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, campaign_id, run_id, session_id, title, kind,
			status, summary, evidence, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CampaignID, nullStr(t.RunID), nullStr(t.SessionID), t.Title, t.Kind,
		t.Status, nullStr(t.Summary), evidence, nullFloat(t.Confidence))
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// ListThreads returns all of a campaign's threads, including hidden and
// merged ones.
func (s *Store) ListThreads(ctx context.Context, campaignID string) ([]models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, run_id, session_id, title, kind, status,
			summary, evidence, confidence
		FROM threads WHERE campaign_id = ? ORDER BY title`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var out []models.Thread
	for rows.Next() {
		var t models.Thread
		var runID, sessionID, summary, evidence sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.CampaignID, &runID, &sessionID,
			&t.Title, &t.Kind, &t.Status, &summary, &evidence, &conf); err != nil {
			return nil, err
		}
		t.RunID = strOrEmpty(runID)
		t.SessionID = strOrEmpty(sessionID)
		t.Summary = strOrEmpty(summary)
		if err := unmarshalJSON(evidence, &t.Evidence); err != nil {
			return nil, err
		}
		t.Confidence = floatPtr(conf)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddThreadUpdate appends one per-session note to a thread.
func (s *Store) AddThreadUpdate(ctx context.Context, u *models.ThreadUpdate) error {
	evidence, err := marshalJSON(u.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	related, err := marshalJSON(u.RelatedEventIDs)
	if err != nil {
		return fmt.Errorf("failed to encode related events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_updates (id, run_id, session_id, thread_id, update_type, note, evidence, related_event_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.RunID, u.SessionID, u.ThreadID, u.UpdateType, u.Note, evidence, related)
	if err != nil {
		return fmt.Errorf("failed to add thread update: %w", err)
	}
	return nil
}

// ListThreadUpdates returns a thread's updates in insertion order.
func (s *Store) ListThreadUpdates(ctx context.Context, threadID string) ([]models.ThreadUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, session_id, thread_id, update_type, note, evidence, related_event_ids
		FROM thread_updates WHERE thread_id = ? ORDER BY rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread updates: %w", err)
	}
	defer rows.Close()

	var out []models.ThreadUpdate
	for rows.Next() {
		var u models.ThreadUpdate
		var evidence, related sql.NullString
		if err := rows.Scan(&u.ID, &u.RunID, &u.SessionID, &u.ThreadID,
			&u.UpdateType, &u.Note, &evidence, &related); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(evidence, &u.Evidence); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(related, &u.RelatedEventIDs); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveExtraction persists one extractor payload.
func (s *Store) SaveExtraction(ctx context.Context, e *models.Extraction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (id, run_id, session_id, kind, model, prompt_id, prompt_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.SessionID, e.Kind, e.Model, e.PromptID, e.PromptVersion,
		string(e.Payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

// GetExtraction returns the most recent extraction of a kind for a run.
func (s *Store) GetExtraction(ctx context.Context, runID, kind string) (*models.Extraction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, session_id, kind, model, prompt_id, prompt_version, payload, created_at
		FROM extractions WHERE run_id = ? AND kind = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, runID, kind)
	var e models.Extraction
	var payload string
	err := row.Scan(&e.ID, &e.RunID, &e.SessionID, &e.Kind, &e.Model,
		&e.PromptID, &e.PromptVersion, &payload, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("extraction %s for run %s: %w", kind, runID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	e.Payload = []byte(payload)
	return &e, nil
}

// SaveArtifact records a rendered output file.
func (s *Store) SaveArtifact(ctx context.Context, a *models.Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, run_id, session_id, kind, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.SessionID, a.Kind, a.Path, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns a run's artifacts.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, session_id, kind, path, created_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.SessionID, &a.Kind, &a.Path, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
