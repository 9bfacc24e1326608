package models

import (
	"time"
)

// TargetType identifies what kind of record a correction applies to.
type TargetType string

const (
	TargetEntity TargetType = "entity"
	TargetThread TargetType = "thread"
)

// Role is the authoring role for a correction.
type Role string

const (
	RoleDM     Role = "dm"
	RolePlayer Role = "player"
)

// CorrectionState is the review state of a correction.
type CorrectionState string

const (
	CorrectionPending  CorrectionState = "pending"
	CorrectionApproved CorrectionState = "approved"
	CorrectionRejected CorrectionState = "rejected"
)

// Action is the kind of override a correction expresses.
type Action string

const (
	ActionEntityRename      Action = "entity_rename"
	ActionEntityAliasAdd    Action = "entity_alias_add"
	ActionEntityAliasRemove Action = "entity_alias_remove"
	ActionEntityMerge       Action = "entity_merge"
	ActionEntityHide        Action = "entity_hide"
	ActionEntityUnhide      Action = "entity_unhide"
	ActionEntityUnmerge     Action = "entity_unmerge"

	ActionThreadStatus  Action = "thread_status"
	ActionThreadTitle   Action = "thread_title"
	ActionThreadSummary Action = "thread_summary"
	ActionThreadMerge   Action = "thread_merge"
	ActionThreadHide    Action = "thread_hide"
	ActionThreadUnhide  Action = "thread_unhide"
	ActionThreadUnmerge Action = "thread_unmerge"
)

// EntityAction reports whether the action applies to entity targets.
func (a Action) EntityAction() bool {
	switch a {
	case ActionEntityRename, ActionEntityAliasAdd, ActionEntityAliasRemove,
		ActionEntityMerge, ActionEntityHide, ActionEntityUnhide, ActionEntityUnmerge:
		return true
	}
	return false
}

// ThreadAction reports whether the action applies to thread targets.
func (a Action) ThreadAction() bool {
	switch a {
	case ActionThreadStatus, ActionThreadTitle, ActionThreadSummary,
		ActionThreadMerge, ActionThreadHide, ActionThreadUnhide, ActionThreadUnmerge:
		return true
	}
	return false
}

// CorrectionPayload carries the action-specific fields of a correction.
// Only the fields relevant to the action are set.
type CorrectionPayload struct {
	// Name is the new canonical name for rename actions.
	Name string `json:"name,omitempty"`

	// Alias is the alias being added or removed.
	Alias string `json:"alias,omitempty"`

	// IntoID is the merge target for merge actions.
	IntoID string `json:"into_id,omitempty"`

	// Status, Title, Summary are thread field overrides.
	Status  string `json:"status,omitempty"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Correction is one attributed, append-only override of canonical state.
// A correction is never edited or deleted after creation; only its review
// state transitions (pending -> approved|rejected), and reversal is a new
// correction.
type Correction struct {
	// Unique identifier.
	ID string `json:"id"`

	// Campaign the correction belongs to.
	CampaignID string `json:"campaign_id"`

	// Optional session scope. Empty means campaign-wide.
	SessionID string `json:"session_id,omitempty"`

	// What the correction targets.
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`

	// The override itself.
	Action  Action            `json:"action"`
	Payload CorrectionPayload `json:"payload"`

	// Attribution.
	CreatedBy     string    `json:"created_by"`
	CreatedByRole Role      `json:"created_by_role"`
	CreatedAt     time.Time `json:"created_at"`

	// Seq is the insertion sequence, the tiebreaker when two corrections
	// share a created_at timestamp. Assigned by the store.
	Seq int64 `json:"seq"`

	// Review state.
	State      CorrectionState `json:"state"`
	ApprovedBy string          `json:"approved_by,omitempty"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
}

// Effective reports whether the correction participates in canonical-map
// construction.
func (c *Correction) Effective() bool {
	return c.State == CorrectionApproved
}
