package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the convergence core. Callers match with errors.Is.
var (
	// ErrNotAuthorized is returned when a role-gated correction action is
	// attempted by a non-DM actor.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAlreadyDecided is returned when approving or rejecting a
	// correction that is no longer pending.
	ErrAlreadyDecided = errors.New("correction already decided")

	// ErrInvalidCorrection is returned for corrections that can never be
	// applied, such as removing an entity's active canonical name as an
	// alias. Rejected at submission/decision time; never enters the map.
	ErrInvalidCorrection = errors.New("invalid correction")

	// ErrCycleDetected is returned when approving a merge would close a
	// merge-pointer cycle.
	ErrCycleDetected = errors.New("merge cycle detected")

	// ErrEvidenceIntegrity is returned when an evidence span fails
	// validate-and-repair.
	ErrEvidenceIntegrity = errors.New("evidence integrity violation")

	// ErrIdempotencyConflict is returned when a run is requested for an
	// idempotency key that already has a live run.
	ErrIdempotencyConflict = errors.New("run already in flight for key")

	// ErrNotFound is returned by store lookups for missing records.
	ErrNotFound = errors.New("not found")
)

// StageError captures a pipeline stage failure on a RunStep.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
