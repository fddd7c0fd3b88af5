package models

import "time"

type ResourceKind string

const (
	KindRoom        ResourceKind = "room"
	KindVirtualOnly ResourceKind = "virtual_only"
)

type Resource struct {
	ID       string       `json:"id" db:"id"`
	Name     string       `json:"name" db:"name"`
	Kind     ResourceKind `json:"kind" db:"kind"`
	Capacity int          `json:"capacity,omitempty" db:"capacity"`
}

type MeetingType string

const (
	TypeClient   MeetingType = "client"
	TypeInternal MeetingType = "internal"
	TypeTeam     MeetingType = "team"
	TypePlanning MeetingType = "planning"
)

type MeetingStatus string

const (
	StatusPending   MeetingStatus = "pending"
	StatusConfirmed MeetingStatus = "confirmed"
	StatusCancelled MeetingStatus = "cancelled"
)

func (t MeetingType) Valid() bool {
	switch t {
	case TypeClient, TypeInternal, TypeTeam, TypePlanning:
		return true
	}
	return false
}

func (s MeetingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows s -> next.
// Cancelled is terminal.
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	}
	return false
}

type Meeting struct {
	ID          string        `json:"id" db:"id"`
	Title       string        `json:"title" db:"title"`
	Description string        `json:"description,omitempty" db:"description"`
	Interval    Interval      `json:"interval"`
	ResourceID  string        `json:"resourceId,omitempty" db:"resource_id"`
	IsOnline    bool          `json:"isOnline" db:"is_online"`
	Attendees   []string      `json:"attendees,omitempty"`
	Type        MeetingType   `json:"type" db:"type"`
	Status      MeetingStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at"`
}

// MeetingDraft is the transient value a caller submits to propose a booking.
// ResourceID empty means no room is claimed (pure online meeting).
type MeetingDraft struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	ResourceID  string        `json:"resourceId"`
	IsOnline    bool          `json:"isOnline"`
	Attendees   []string      `json:"attendees"`
	Type        MeetingType   `json:"type"`
	Status      MeetingStatus `json:"status"`
}

// ConflictDescriptor names one existing booking that overlaps a candidate.
// Returned as data, never as an error, so the caller decides how to react.
type ConflictDescriptor struct {
	MeetingID    string   `json:"meetingId"`
	MeetingTitle string   `json:"meetingTitle"`
	ResourceID   string   `json:"resourceId,omitempty"`
	ResourceName string   `json:"resourceName,omitempty"`
	Attendee     string   `json:"attendee,omitempty"`
	Overlap      Interval `json:"overlap"`
	Message      string   `json:"message"`
}

// ScheduleStats is the summary panel projection: booking activity around now.
type ScheduleStats struct {
	Today      int `json:"today"`
	ThisWeek   int `json:"thisWeek"`
	Pending    int `json:"pending"`
	RoomsInUse int `json:"roomsInUse"`
}
