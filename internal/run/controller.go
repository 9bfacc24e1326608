// Package run owns the per-session run lifecycle: idempotency keys, status
// transitions, step bookkeeping, and the bounded retry policy. The external
// scheduler (whatever invokes the pipeline) is constrained entirely by the
// rules here: at most one live run per session, completed stages are never
// replayed, and completed/failed are terminal.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/models"
)

// maxStepError caps persisted step error text.
const maxStepError = 2000

// Store is the persistence surface for runs and steps. Step transitions
// serialize under the store's per-run lock.
type Store interface {
	GetRunByKey(ctx context.Context, key models.RunKey) (*models.Run, error)
	GetLiveRunForSession(ctx context.Context, sessionID string) (*models.Run, error)
	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, reason string, finishedAt *time.Time) error
	AppendRunStep(ctx context.Context, s *models.RunStep) error
	FinishRunStep(ctx context.Context, stepID string, status models.StepStatus, errText string, at time.Time) error
}

// Controller enforces the run state machine.
type Controller struct {
	store   Store
	backoff BackoffPolicy
	now     func() time.Time
}

// NewController creates a controller with the given retry policy.
func NewController(s Store, backoff BackoffPolicy) *Controller {
	return &Controller{store: s, backoff: backoff, now: time.Now}
}

// Start returns the run for the key, creating one if needed.
//
// Rules: an identical key with a live run is an IdempotencyConflict (the
// caller must not start concurrent work); any other live run for the same
// session also conflicts; an existing terminal or partial run is returned
// as-is unless force requests reprocessing.
func (c *Controller) Start(ctx context.Context, key models.RunKey, force bool) (*models.Run, bool, error) {
	if existing, err := c.store.GetRunByKey(ctx, key); err == nil {
		if existing.Status == models.RunRunning {
			return nil, false, fmt.Errorf("run %s is running: %w", existing.ID, models.ErrIdempotencyConflict)
		}
		if !force {
			return existing, false, nil
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	if live, err := c.store.GetLiveRunForSession(ctx, key.SessionID); err == nil {
		return nil, false, fmt.Errorf("session %s already has run %s in flight: %w",
			key.SessionID, live.ID, models.ErrIdempotencyConflict)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	r := &models.Run{
		ID:             uuid.NewString(),
		CampaignID:     key.CampaignID,
		SessionID:      key.SessionID,
		TranscriptHash: key.TranscriptHash,
		PromptVersion:  key.PromptVersion,
		Model:          key.Model,
		Status:         models.RunRunning,
		CreatedAt:      c.now(),
	}
	if err := c.store.CreateRun(ctx, r); err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	return r, true, nil
}

// Resume re-opens a partial run for another pass over its unfinished
// stages. Only partial runs are resumable.
func (c *Controller) Resume(ctx context.Context, runID string) (*models.Run, error) {
	r, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RunPartial {
		return nil, fmt.Errorf("run %s is %s, only partial runs resume: %w", runID, r.Status, models.ErrIdempotencyConflict)
	}
	if err := c.store.UpdateRunStatus(ctx, runID, models.RunRunning, "", nil); err != nil {
		return nil, err
	}
	r.Status = models.RunRunning
	return r, nil
}

// Finish applies a terminal-or-partial outcome, enforcing legal
// transitions. A failed outcome on a resumed run that had already reached
// partial stays partial: resumption failure never downgrades retained
// structured data.
func (c *Controller) Finish(ctx context.Context, runID string, status models.RunStatus, reason string) error {
	r, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", runID, r.Status)
	}
	switch status {
	case models.RunCompleted, models.RunPartial, models.RunFailed:
	default:
		return fmt.Errorf("invalid finish status %q", status)
	}

	// A previously-partial run that fails again stays partial with the
	// new reason recorded.
	if status == models.RunFailed && c.hasPartialHistory(r) {
		status = models.RunPartial
	}

	at := c.now()
	return c.store.UpdateRunStatus(ctx, runID, status, reason, &at)
}

// hasPartialHistory reports whether the run's structured stages have
// succeeded on some earlier pass, which is what partial status protects.
func (c *Controller) hasPartialHistory(r *models.Run) bool {
	done := CompletedSteps(r)
	for _, name := range StructuredStages {
		if !done[name] {
			return false
		}
	}
	return true
}

// Cancel records an external cancellation between steps. The run is kept,
// marked failed with a distinct reason.
func (c *Controller) Cancel(ctx context.Context, runID, reason string) error {
	r, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", runID, r.Status)
	}
	if reason == "" {
		reason = "cancelled"
	} else {
		reason = "cancelled: " + reason
	}
	at := c.now()
	return c.store.UpdateRunStatus(ctx, runID, models.RunFailed, reason, &at)
}

// StructuredStages are the stages whose success makes a run's structured
// data trustworthy; a later narrative failure then yields partial, not
// failed.
var StructuredStages = []string{"ingest", "extract", "persist", "resolve"}

// NarrativeStages produce the summary and artifact.
var NarrativeStages = []string{"plan", "write", "render"}

// AllStages in execution order.
var AllStages = []string{"ingest", "extract", "persist", "resolve", "plan", "write", "render"}

// CompletedSteps returns the set of step names that have succeeded on any
// attempt of any pass.
func CompletedSteps(r *models.Run) map[string]bool {
	done := make(map[string]bool)
	for _, s := range r.Steps {
		if s.Status == models.StepSucceeded {
			done[s.Name] = true
		}
	}
	return done
}

// ExecuteStep runs one stage under the retry policy. Every attempt gets
// its own appended step row; prior rows are never rewritten. After
// exhaustion the last error is returned wrapped as a StageError.
func (c *Controller) ExecuteStep(ctx context.Context, runID, name string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		if err := sleep(ctx, c.backoff.Delay(attempt)); err != nil {
			return &models.StageError{Stage: name, Err: err}
		}

		step := &models.RunStep{
			ID:        uuid.NewString(),
			RunID:     runID,
			Name:      name,
			Status:    models.StepRunning,
			Attempt:   attempt,
			StartedAt: c.now(),
		}
		if err := c.store.AppendRunStep(ctx, step); err != nil {
			return &models.StageError{Stage: name, Err: err}
		}

		err := fn(ctx)
		if err == nil {
			if ferr := c.store.FinishRunStep(ctx, step.ID, models.StepSucceeded, "", c.now()); ferr != nil {
				return &models.StageError{Stage: name, Err: ferr}
			}
			return nil
		}

		lastErr = err
		if ferr := c.store.FinishRunStep(ctx, step.ID, models.StepFailed, truncateError(err), c.now()); ferr != nil {
			return &models.StageError{Stage: name, Err: ferr}
		}
		if ctx.Err() != nil {
			break
		}
	}
	return &models.StageError{Stage: name, Err: lastErr}
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxStepError {
		return msg[:maxStepError]
	}
	return msg
}
