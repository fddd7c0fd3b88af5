package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnknownResource   = errors.New("unknown resource")
	ErrDuplicateResource = errors.New("duplicate resource")
	ErrResourceInUse     = errors.New("resource in use")
	ErrMeetingNotFound   = errors.New("meeting not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleConflict     = errors.New("stale conflict")
	ErrBusy              = errors.New("resource busy")
)

// ValidationError rejects a malformed draft. Never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type UnknownResourceError struct {
	ResourceID string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("unknown resource %q", e.ResourceID)
}

func (e *UnknownResourceError) Is(target error) bool { return target == ErrUnknownResource }

type DuplicateResourceError struct {
	ResourceID string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("resource %q already registered", e.ResourceID)
}

func (e *DuplicateResourceError) Is(target error) bool { return target == ErrDuplicateResource }

// ResourceInUseError blocks resource removal while live bookings reference it.
type ResourceInUseError struct {
	ResourceID string
	Meetings   int
}

func (e *ResourceInUseError) Error() string {
	return fmt.Sprintf("resource %q referenced by %d active meeting(s)", e.ResourceID, e.Meetings)
}

func (e *ResourceInUseError) Is(target error) bool { return target == ErrResourceInUse }

type MeetingNotFoundError struct {
	MeetingID string
}

func (e *MeetingNotFoundError) Error() string {
	return fmt.Sprintf("meeting %q not found", e.MeetingID)
}

func (e *MeetingNotFoundError) Is(target error) bool { return target == ErrMeetingNotFound }

type InvalidTransitionError struct {
	MeetingID string
	From, To  MeetingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("meeting %q: cannot transition %s -> %s", e.MeetingID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StaleConflictError fails a commit when an overlap appeared between
// validation and commit. Transient: retry with fresh data.
type StaleConflictError struct {
	MeetingID string
	Conflicts []ConflictDescriptor
}

func (e *StaleConflictError) Error() string {
	return fmt.Sprintf("meeting %q: %d conflicting booking(s) appeared before commit", e.MeetingID, len(e.Conflicts))
}

func (e *StaleConflictError) Is(target error) bool { return target == ErrStaleConflict }

// BusyError reports a lock acquisition timeout. Transient: retry.
type BusyError struct {
	ResourceID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("resource %q busy: lock not acquired in time", e.ResourceID)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }
