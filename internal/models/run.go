package models

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	// RunRunning is the only non-terminal whole-run state besides partial.
	RunRunning RunStatus = "running"

	// RunCompleted and RunFailed are terminal.
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"

	// RunPartial means structured stages succeeded but narrative stages
	// did not. A partial run may later transition to completed via
	// resumption; a failed resumption leaves it partial.
	RunPartial RunStatus = "partial"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the lifecycle state of one run step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// RunKey is the idempotency key for session processing. Two requests with
// equal keys describe the same work.
type RunKey struct {
	CampaignID     string `json:"campaign_id"`
	SessionID      string `json:"session_id"`
	TranscriptHash string `json:"transcript_hash"`
	PromptVersion  string `json:"prompt_version"`
	Model          string `json:"model"`
}

// String renders the key in a stable form usable as a unique index value.
func (k RunKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		k.CampaignID, k.SessionID, k.TranscriptHash, k.PromptVersion, k.Model)
}

// Run is one idempotent execution of the processing pipeline for a session.
// Immutable once completed or failed; a partial run grows new steps on
// resumption but existing steps are never rewritten.
type Run struct {
	ID             string     `json:"id"`
	CampaignID     string     `json:"campaign_id"`
	SessionID      string     `json:"session_id"`
	TranscriptHash string     `json:"transcript_hash"`
	PromptVersion  string     `json:"prompt_version"`
	Model          string     `json:"model"`
	Status         RunStatus  `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`

	Steps []RunStep `json:"steps,omitempty"`
}

// Key returns the run's idempotency key.
func (r *Run) Key() RunKey {
	return RunKey{
		CampaignID:     r.CampaignID,
		SessionID:      r.SessionID,
		TranscriptHash: r.TranscriptHash,
		PromptVersion:  r.PromptVersion,
		Model:          r.Model,
	}
}

// RunStep is one stage execution record. Appended, never rewritten: a
// retried stage gets a fresh step row with a higher attempt number.
type RunStep struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Attempt    int        `json:"attempt"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// QualityCounters accumulates resolution and evidence bookkeeping per run.
// Dropped work is counted here, never silently discarded.
type QualityCounters struct {
	MentionsDroppedHidden  int `json:"mentions_dropped_hidden"`
	MentionsDroppedRemoved int `json:"mentions_dropped_removed_alias"`
	EntitiesCreated        int `json:"entities_created"`
	MentionsLinked         int `json:"mentions_linked"`
	AliasesAdded           int `json:"aliases_added"`
	ThreadsCreated         int `json:"threads_created"`
	ThreadUpdatesDropped   int `json:"thread_updates_dropped_hidden"`
	QuotesDropped          int `json:"quotes_dropped"`
	EvidenceDropped        int `json:"evidence_dropped"`
	EvidenceRepaired       int `json:"evidence_repaired"`
}
