package models

import "time"

type CalendarView string

const (
	ViewDay   CalendarView = "day"
	ViewWeek  CalendarView = "week"
	ViewMonth CalendarView = "month"
)

func (v CalendarView) Valid() bool {
	return v == ViewDay || v == ViewWeek || v == ViewMonth
}

// HourSlot holds the meetings starting within one hour of a day. A meeting
// spanning several hours appears once, in its start hour, carrying its full
// interval for rendering.
type HourSlot struct {
	Hour     int       `json:"hour"`
	Meetings []Meeting `json:"meetings,omitempty"`
}

type DayGrid struct {
	Date  time.Time  `json:"date"`
	Hours []HourSlot `json:"hours"`
}

type DaySummary struct {
	Date     time.Time `json:"date"`
	Meetings []Meeting `json:"meetings,omitempty"`
}

type WeekGrid struct {
	WeekStart time.Time    `json:"weekStart"`
	Days      []DaySummary `json:"days"`
}

// MonthCell summarizes one date of the fixed 6x7 month grid. It carries a
// count and a few titles, not full meetings, to bound payload size.
type MonthCell struct {
	Date           time.Time `json:"date"`
	InCurrentMonth bool      `json:"inCurrentMonth"`
	MeetingCount   int       `json:"meetingCount"`
	Titles         []string  `json:"titles,omitempty"`
}

type MonthGrid struct {
	Year  int         `json:"year"`
	Month time.Month  `json:"month"`
	Cells []MonthCell `json:"cells"`
}
