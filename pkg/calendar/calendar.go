package calendar

import (
	"time"

	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	monthCells     = 42 // fixed 6x7 grid regardless of month shape
	cellTitleLimit = 3
)

type Option func(*Builder)

// WithWeekStart overrides the first day of the week (default Sunday).
func WithWeekStart(day time.Weekday) Option {
	return func(b *Builder) { b.weekStart = day }
}

// Builder projects schedule snapshots into day/week/month grids. Pure reads:
// it never mutates the snapshot and is safe to call concurrently with
// bookings.
type Builder struct {
	log       *logrus.Entry
	weekStart time.Weekday
}

func New(log *logrus.Logger, opts ...Option) *Builder {
	b := &Builder{
		log:       log.WithField("component", "calendar"),
		weekStart: time.Sunday,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WeekStart reports the configured first day of the week.
func (b *Builder) WeekStart() time.Weekday {
	return b.weekStart
}

// BuildDay buckets each meeting by the hour of its start time in loc. A
// meeting spanning several hours appears once, in its start hour, carrying
// its full interval.
func (b *Builder) BuildDay(snapshot []models.Meeting, date time.Time, loc *time.Location) models.DayGrid {
	day := startOfDay(date, loc)
	grid := models.DayGrid{Date: day, Hours: make([]models.HourSlot, 24)}
	for hour := range grid.Hours {
		grid.Hours[hour].Hour = hour
	}
	for _, m := range snapshot {
		if m.Status == models.StatusCancelled {
			continue
		}
		start := m.Interval.Start.In(loc)
		if !sameDate(start, day) {
			continue
		}
		grid.Hours[start.Hour()].Meetings = append(grid.Hours[start.Hour()].Meetings, m)
	}
	return grid
}

// BuildWeek returns 7 day summaries starting from the configured week start
// on or before the anchor date.
func (b *Builder) BuildWeek(snapshot []models.Meeting, anchor time.Time, loc *time.Location) models.WeekGrid {
	weekStart := b.startOfWeek(anchor, loc)
	grid := models.WeekGrid{WeekStart: weekStart, Days: make([]models.DaySummary, 7)}
	for i := range grid.Days {
		grid.Days[i].Date = weekStart.AddDate(0, 0, i)
	}
	for _, m := range snapshot {
		if m.Status == models.StatusCancelled {
			continue
		}
		start := m.Interval.Start.In(loc)
		for i := range grid.Days {
			if sameDate(start, grid.Days[i].Date) {
				grid.Days[i].Meetings = append(grid.Days[i].Meetings, m)
				break
			}
		}
	}
	return grid
}

// BuildMonth always returns exactly 42 cells: the 6x7 grid starting from the
// week start on or before the 1st of the anchor month, leading and trailing
// days of adjacent months marked inCurrentMonth=false. Cells carry counts
// and a few titles, never full meetings.
func (b *Builder) BuildMonth(snapshot []models.Meeting, anchor time.Time, loc *time.Location) models.MonthGrid {
	local := anchor.In(loc)
	firstOfMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	gridStart := b.startOfWeek(firstOfMonth, loc)

	counts := make(map[string]int)
	titles := make(map[string][]string)
	for _, m := range snapshot {
		if m.Status == models.StatusCancelled {
			continue
		}
		key := m.Interval.Start.In(loc).Format("2006-01-02")
		counts[key]++
		if len(titles[key]) < cellTitleLimit {
			titles[key] = append(titles[key], m.Title)
		}
	}

	grid := models.MonthGrid{
		Year:  firstOfMonth.Year(),
		Month: firstOfMonth.Month(),
		Cells: make([]models.MonthCell, monthCells),
	}
	for i := range grid.Cells {
		date := gridStart.AddDate(0, 0, i)
		key := date.Format("2006-01-02")
		grid.Cells[i] = models.MonthCell{
			Date:           date,
			InCurrentMonth: date.Month() == firstOfMonth.Month() && date.Year() == firstOfMonth.Year(),
			MeetingCount:   counts[key],
			Titles:         titles[key],
		}
	}
	return grid
}

func (b *Builder) startOfWeek(anchor time.Time, loc *time.Location) time.Time {
	day := startOfDay(anchor, loc)
	back := (int(day.Weekday()) - int(b.weekStart) + 7) % 7
	return day.AddDate(0, 0, -back)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
