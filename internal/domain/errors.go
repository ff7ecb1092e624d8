package domain

import "fmt"

// VersionConflictError is returned when a command's expected version does
// not match the store's current event count. The caller must refetch state
// and retry; conflicting commands are never merged.
type VersionConflictError struct {
	SakID    string
	Expected int
	Actual   int
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on case %s: expected %d, log has %d", e.SakID, e.Expected, e.Actual)
}

// InvalidTransitionError is returned when a command is attempted in a state
// that forbids it. Nothing is appended.
type InvalidTransitionError struct {
	Track  Track
	Status TrackStatus
	Reason string
}

func (e InvalidTransitionError) Error() string {
	if e.Track == "" {
		return fmt.Sprintf("invalid transition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid transition on %s (status %s): %s", e.Track, e.Status, e.Reason)
}

// MalformedPayloadError is returned when an event payload is missing fields
// required for its type. Rejected at the command boundary, never stored.
type MalformedPayloadError struct {
	Type  EventType
	Field string
}

func (e MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload for %s: %s required", e.Type, e.Field)
}

// InconsistentSubsidiaryStateError signals that both principal and
// subsidiary outcomes would govern a track at once. It marks a defect in
// the resolver, not bad input, and is surfaced as a 500, never swallowed.
type InconsistentSubsidiaryStateError struct {
	Track Track
}

func (e InconsistentSubsidiaryStateError) Error() string {
	return fmt.Sprintf("inconsistent subsidiary state on %s: principal and subsidiary both govern", e.Track)
}
