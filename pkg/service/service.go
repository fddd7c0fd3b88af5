package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pershin-daniil/MeetingRooms/pkg/calendar"
	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/pershin-daniil/MeetingRooms/pkg/registry"
	"github.com/pershin-daniil/MeetingRooms/pkg/schedule"
	"github.com/sirupsen/logrus"
)

type Notifier interface {
	Notify(ctx context.Context, message string, meetingID string) error
}

// ResourceArchiver mirrors registry changes into durable storage. Meetings
// flow through the schedule changelog instead.
type ResourceArchiver interface {
	UpsertResource(ctx context.Context, resource models.Resource) error
	DeleteResource(ctx context.Context, id string) error
}

// ScheduleService is the facade the presentation layer talks to: resource
// administration, booking lifecycle and calendar projections.
type ScheduleService struct {
	log       *logrus.Entry
	registry  *registry.Registry
	store     *schedule.Store
	builder   *calendar.Builder
	notifier  Notifier
	archiver  ResourceArchiver
	weekStart time.Weekday
}

func NewScheduleService(log *logrus.Logger, reg *registry.Registry, store *schedule.Store, builder *calendar.Builder, notifier Notifier) *ScheduleService {
	s := &ScheduleService{
		log:       log.WithField("component", "service"),
		registry:  reg,
		store:     store,
		builder:   builder,
		notifier:  notifier,
		weekStart: builder.WeekStart(),
	}
	reg.SetUsageCheck(store.MeetingsUsingResource)
	return s
}

func (s *ScheduleService) WithResourceArchiver(archiver ResourceArchiver) *ScheduleService {
	s.archiver = archiver
	return s
}

func (s *ScheduleService) RegisterResource(ctx context.Context, resource models.Resource) (string, error) {
	id, err := s.registry.Register(resource)
	if err != nil {
		return "", fmt.Errorf("err registering resource: %w", err)
	}
	if s.archiver != nil {
		if err := s.archiver.UpsertResource(ctx, resource); err != nil {
			s.log.Errorf("err archiving resource %s: %v", id, err)
		}
	}
	return id, nil
}

func (s *ScheduleService) ListResources(ctx context.Context) ([]models.Resource, error) {
	return s.registry.List(), nil
}

func (s *ScheduleService) GetResource(ctx context.Context, id string) (models.Resource, error) {
	return s.registry.Get(id)
}

func (s *ScheduleService) RemoveResource(ctx context.Context, id string) error {
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	if s.archiver != nil {
		if err := s.archiver.DeleteResource(ctx, id); err != nil {
			s.log.Errorf("err removing archived resource %s: %v", id, err)
		}
	}
	return nil
}

func (s *ScheduleService) ProposeMeeting(ctx context.Context, draft models.MeetingDraft, opts schedule.ProposeOptions) (schedule.ProposeResult, error) {
	result, err := s.store.Propose(ctx, draft, opts)
	if err != nil {
		return schedule.ProposeResult{}, fmt.Errorf("err proposing meeting: %w", err)
	}
	if result.Committed {
		if err := s.notifier.Notify(ctx, fmt.Sprintf("meeting %q booked", draft.Title), result.Meeting.ID); err != nil {
			s.log.Errorf("err notifying about booking: %v", err)
		}
	}
	return result, nil
}

func (s *ScheduleService) CommitMeeting(ctx context.Context, meetingID string) (models.Meeting, error) {
	meeting, err := s.store.Commit(ctx, meetingID, schedule.DefaultLockWait)
	if err != nil {
		return models.Meeting{}, err
	}
	if err := s.notifier.Notify(ctx, fmt.Sprintf("meeting %q booked", meeting.Title), meeting.ID); err != nil {
		s.log.Errorf("err notifying about booking: %v", err)
	}
	return meeting, nil
}

func (s *ScheduleService) DiscardMeeting(ctx context.Context, meetingID string) error {
	return s.store.Discard(meetingID)
}

func (s *ScheduleService) RescheduleMeeting(ctx context.Context, meetingID string, newInterval models.Interval, newResourceID *string) (models.Meeting, []models.ConflictDescriptor, error) {
	return s.store.Reschedule(ctx, meetingID, newInterval, newResourceID, schedule.DefaultLockWait)
}

func (s *ScheduleService) CancelMeeting(ctx context.Context, meetingID string) (models.Meeting, error) {
	return s.store.Cancel(ctx, meetingID, schedule.DefaultLockWait)
}

func (s *ScheduleService) SetMeetingStatus(ctx context.Context, meetingID string, status models.MeetingStatus) (models.Meeting, error) {
	return s.store.SetStatus(ctx, meetingID, status, schedule.DefaultLockWait)
}

func (s *ScheduleService) UpdateAttendees(ctx context.Context, meetingID string, attendees []string) (models.Meeting, error) {
	return s.store.UpdateAttendees(ctx, meetingID, attendees)
}

func (s *ScheduleService) PurgeMeeting(ctx context.Context, meetingID string) error {
	return s.store.Purge(ctx, meetingID, schedule.DefaultLockWait)
}

func (s *ScheduleService) GetMeeting(ctx context.Context, meetingID string) (models.Meeting, error) {
	return s.store.Get(meetingID)
}

func (s *ScheduleService) QueryWindow(ctx context.Context, resourceID string, window models.Interval) ([]models.Meeting, error) {
	return s.store.QueryWindow(ctx, resourceID, window)
}

// BuildCalendar materializes the requested grid over a snapshot taken now.
func (s *ScheduleService) BuildCalendar(ctx context.Context, view models.CalendarView, anchor time.Time, loc *time.Location) (interface{}, error) {
	snapshot := s.store.Snapshot()
	switch view {
	case models.ViewDay:
		return s.builder.BuildDay(snapshot, anchor, loc), nil
	case models.ViewWeek:
		return s.builder.BuildWeek(snapshot, anchor, loc), nil
	case models.ViewMonth:
		return s.builder.BuildMonth(snapshot, anchor, loc), nil
	}
	return nil, &models.ValidationError{Field: "view", Reason: "must be day, week or month"}
}

// Stats summarizes booking activity around now for the overview panel.
func (s *ScheduleService) Stats(ctx context.Context, now time.Time, loc *time.Location) (models.ScheduleStats, error) {
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	back := (int(dayStart.Weekday()) - int(s.weekStart) + 7) % 7
	weekStart := dayStart.AddDate(0, 0, -back)

	today, err := s.store.QueryWindow(ctx, "", models.NewInterval(dayStart, dayStart.AddDate(0, 0, 1)))
	if err != nil {
		return models.ScheduleStats{}, err
	}
	week, err := s.store.QueryWindow(ctx, "", models.NewInterval(weekStart, weekStart.AddDate(0, 0, 7)))
	if err != nil {
		return models.ScheduleStats{}, err
	}

	stats := models.ScheduleStats{Today: len(today), ThisWeek: len(week)}
	rooms := make(map[string]bool)
	for _, m := range today {
		if m.ResourceID != "" {
			rooms[m.ResourceID] = true
		}
	}
	stats.RoomsInUse = len(rooms)
	for _, m := range s.store.Snapshot() {
		if m.Status == models.StatusPending {
			stats.Pending++
		}
	}
	return stats, nil
}
