package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pershin-daniil/MeetingRooms/pkg/metrics"
	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLockWait bounds lock acquisition so bookings fail with Busy
	// instead of blocking indefinitely.
	DefaultLockWait = 2 * time.Second

	maxChangelog = 10000
)

type ResourceDirectory interface {
	Get(id string) (models.Resource, error)
}

type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// Change is one changelog entry consumed by the durability flusher.
type Change struct {
	Op      ChangeOp
	Meeting models.Meeting
}

type ProposeOptions struct {
	Force          bool
	AutoCommit     bool
	CheckAttendees bool
	LockWait       time.Duration
}

type ProposeResult struct {
	Meeting           *models.Meeting
	Conflicts         []models.ConflictDescriptor
	AttendeeConflicts []models.ConflictDescriptor
	Committed         bool
}

// Store owns the authoritative set of meetings and the per-resource index
// sorted by start time. All mutations on a resource serialize on that
// resource's lock; bookings on different rooms never block each other.
type Store struct {
	log       *logrus.Entry
	resources ResourceDirectory
	now       func() time.Time

	mu       sync.RWMutex
	meetings map[string]*models.Meeting // committed, including cancelled history
	drafts   map[string]*models.Meeting // proposed, not yet committed
	index    map[string][]*models.Meeting
	changes  []Change

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

func NewStore(log *logrus.Logger, resources ResourceDirectory) *Store {
	return &Store{
		log:       log.WithField("component", "schedule"),
		resources: resources,
		now:       time.Now,
		meetings:  make(map[string]*models.Meeting),
		drafts:    make(map[string]*models.Meeting),
		index:     make(map[string][]*models.Meeting),
		locks:     make(map[string]chan struct{}),
	}
}

// lockKey "" serializes meetings that claim no resource.
func (s *Store) lockFor(resourceID string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[resourceID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[resourceID] = l
	}
	return l
}

func (s *Store) acquire(ctx context.Context, resourceID string, wait time.Duration) error {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	l := s.lockFor(resourceID)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return nil
	case <-timer.C:
		metrics.LockTimeoutCount.Inc()
		return &models.BusyError{ResourceID: resourceID}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(resourceID string) {
	<-s.lockFor(resourceID)
}

// acquireAll takes several resource locks in sorted order to avoid deadlock.
func (s *Store) acquireAll(ctx context.Context, resourceIDs []string, wait time.Duration) ([]string, error) {
	ids := append([]string(nil), resourceIDs...)
	sort.Strings(ids)
	uniq := ids[:0]
	for i, id := range ids {
		if i == 0 || ids[i-1] != id {
			uniq = append(uniq, id)
		}
	}
	for i, id := range uniq {
		if err := s.acquire(ctx, id, wait); err != nil {
			for j := 0; j < i; j++ {
				s.release(uniq[j])
			}
			return nil, err
		}
	}
	return uniq, nil
}

func (s *Store) releaseAll(resourceIDs []string) {
	for _, id := range resourceIDs {
		s.release(id)
	}
}

func validateDraft(draft models.MeetingDraft) error {
	if draft.Title == "" {
		return &models.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	interval := models.NewInterval(draft.Start, draft.End)
	if !interval.Valid() {
		return &models.ValidationError{Field: "interval", Reason: "start must be before end"}
	}
	if draft.Type != "" && !draft.Type.Valid() {
		return &models.ValidationError{Field: "type", Reason: "unknown meeting type"}
	}
	if draft.Status == models.StatusCancelled {
		return &models.ValidationError{Field: "status", Reason: "cannot create a cancelled meeting"}
	}
	if draft.Status != "" && !draft.Status.Valid() {
		return &models.ValidationError{Field: "status", Reason: "unknown status"}
	}
	return nil
}

func (s *Store) meetingFromDraft(draft models.MeetingDraft) *models.Meeting {
	now := s.now()
	status := draft.Status
	if status == "" {
		status = models.StatusPending
	}
	typ := draft.Type
	if typ == "" {
		typ = models.TypeInternal
	}
	return &models.Meeting{
		ID:          uuid.New().String(),
		Title:       draft.Title,
		Description: draft.Description,
		Interval:    models.NewInterval(draft.Start, draft.End),
		ResourceID:  draft.ResourceID,
		IsOnline:    draft.IsOnline,
		Attendees:   append([]string(nil), draft.Attendees...),
		Type:        typ,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Propose validates a draft and detects conflicts against the current index.
// Without AutoCommit the index is never touched: the draft is parked until
// Commit or Discard, and no partial state is visible to other callers. With
// AutoCommit the check-then-insert happens atomically under the resource
// lock, so of two concurrent overlapping proposals exactly one wins and the
// loser sees the winner in its conflict list.
func (s *Store) Propose(ctx context.Context, draft models.MeetingDraft, opts ProposeOptions) (ProposeResult, error) {
	defer observe("propose", s.now())
	if err := validateDraft(draft); err != nil {
		return ProposeResult{}, err
	}
	var resourceName string
	if draft.ResourceID != "" {
		resource, err := s.resources.Get(draft.ResourceID)
		if err != nil {
			return ProposeResult{}, err
		}
		resourceName = resource.Name
	}
	meeting := s.meetingFromDraft(draft)
	candidate := Candidate{Interval: meeting.Interval, ResourceID: meeting.ResourceID}

	if !opts.AutoCommit {
		s.mu.Lock()
		defer s.mu.Unlock()
		result := ProposeResult{
			Meeting:   clonePtr(meeting),
			Conflicts: FindConflicts(candidate, s.index[meeting.ResourceID], resourceName),
		}
		if opts.CheckAttendees {
			result.AttendeeConflicts = FindAttendeeConflicts(candidate, meeting.Attendees, s.attendeeIndexLocked())
		}
		s.drafts[meeting.ID] = meeting
		return result, nil
	}

	if err := s.acquire(ctx, meeting.ResourceID, opts.LockWait); err != nil {
		return ProposeResult{}, err
	}
	defer s.release(meeting.ResourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	result := ProposeResult{
		Conflicts: FindConflicts(candidate, s.index[meeting.ResourceID], resourceName),
	}
	if opts.CheckAttendees {
		result.AttendeeConflicts = FindAttendeeConflicts(candidate, meeting.Attendees, s.attendeeIndexLocked())
	}
	if len(result.Conflicts) > 0 {
		metrics.ConflictCount.Add(float64(len(result.Conflicts)))
		if !opts.Force {
			metrics.ProposeCount.WithLabelValues("conflict").Inc()
			s.log.Debugf("propose rejected: %d conflict(s) on resource %q", len(result.Conflicts), meeting.ResourceID)
			return result, nil
		}
		s.log.Warnf("propose forced past %d conflict(s) on resource %q", len(result.Conflicts), meeting.ResourceID)
	}
	s.insertLocked(meeting)
	result.Meeting = clonePtr(meeting)
	result.Committed = true
	metrics.ProposeCount.WithLabelValues("committed").Inc()
	return result, nil
}

// Commit inserts a previously proposed draft. Fails with StaleConflict if a
// concurrent mutation introduced an overlap since the propose validation.
func (s *Store) Commit(ctx context.Context, meetingID string, lockWait time.Duration) (models.Meeting, error) {
	defer observe("commit", s.now())
	s.mu.RLock()
	draft, ok := s.drafts[meetingID]
	s.mu.RUnlock()
	if !ok {
		return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	resourceName, err := s.resourceName(draft.ResourceID)
	if err != nil {
		return models.Meeting{}, err
	}
	if err := s.acquire(ctx, draft.ResourceID, lockWait); err != nil {
		return models.Meeting{}, err
	}
	defer s.release(draft.ResourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[meetingID]; !ok {
		return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	candidate := Candidate{Interval: draft.Interval, ResourceID: draft.ResourceID}
	conflicts := FindConflicts(candidate, s.index[draft.ResourceID], resourceName)
	if len(conflicts) > 0 {
		metrics.ConflictCount.Add(float64(len(conflicts)))
		return models.Meeting{}, &models.StaleConflictError{MeetingID: meetingID, Conflicts: conflicts}
	}
	delete(s.drafts, meetingID)
	s.insertLocked(draft)
	return *clonePtr(draft), nil
}

// Discard abandons a proposed draft that was never committed.
func (s *Store) Discard(meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[meetingID]; !ok {
		return &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	delete(s.drafts, meetingID)
	return nil
}

// Reschedule atomically moves a meeting to a new interval and optionally a
// new resource. The meeting excludes itself from conflict detection, so
// shifting within its own old slot succeeds. Swap-or-reject: on conflict
// nothing changes and the conflicts are returned as data.
func (s *Store) Reschedule(ctx context.Context, meetingID string, newInterval models.Interval, newResourceID *string, lockWait time.Duration) (models.Meeting, []models.ConflictDescriptor, error) {
	defer observe("reschedule", s.now())
	if !newInterval.Valid() {
		return models.Meeting{}, nil, &models.ValidationError{Field: "interval", Reason: "start must be before end"}
	}
	s.mu.RLock()
	current, ok := s.meetings[meetingID]
	var oldResource string
	if ok {
		oldResource = current.ResourceID
	}
	s.mu.RUnlock()
	if !ok {
		return models.Meeting{}, nil, &models.MeetingNotFoundError{MeetingID: meetingID}
	}

	targetResource := oldResource
	if newResourceID != nil {
		targetResource = *newResourceID
	}
	resourceName, err := s.resourceName(targetResource)
	if err != nil {
		return models.Meeting{}, nil, err
	}

	held, err := s.acquireAll(ctx, []string{oldResource, targetResource}, lockWait)
	if err != nil {
		return models.Meeting{}, nil, err
	}
	defer s.releaseAll(held)

	s.mu.Lock()
	defer s.mu.Unlock()
	meeting, ok := s.meetings[meetingID]
	if !ok {
		return models.Meeting{}, nil, &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	if meeting.Status == models.StatusCancelled {
		return models.Meeting{}, nil, &models.InvalidTransitionError{MeetingID: meetingID, From: meeting.Status, To: meeting.Status}
	}
	candidate := Candidate{Interval: newInterval, ResourceID: targetResource, ExcludeMeetingID: meetingID}
	conflicts := FindConflicts(candidate, s.index[targetResource], resourceName)
	if len(conflicts) > 0 {
		metrics.ConflictCount.Add(float64(len(conflicts)))
		return models.Meeting{}, conflicts, nil
	}
	s.removeFromIndexLocked(meeting)
	meeting.Interval = newInterval
	meeting.ResourceID = targetResource
	meeting.UpdatedAt = s.now()
	s.indexInsertLocked(meeting)
	s.recordLocked(Change{Op: ChangeUpsert, Meeting: *clonePtr(meeting)})
	return *clonePtr(meeting), nil, nil
}

// SetStatus drives the Pending -> Confirmed -> Cancelled machine. Cancelling
// removes the meeting from the active index but retains it as history.
func (s *Store) SetStatus(ctx context.Context, meetingID string, status models.MeetingStatus, lockWait time.Duration) (models.Meeting, error) {
	defer observe("set_status", s.now())
	if !status.Valid() {
		return models.Meeting{}, &models.ValidationError{Field: "status", Reason: "unknown status"}
	}
	s.mu.RLock()
	current, ok := s.meetings[meetingID]
	var resourceID string
	if ok {
		resourceID = current.ResourceID
	}
	s.mu.RUnlock()
	if !ok {
		return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	if err := s.acquire(ctx, resourceID, lockWait); err != nil {
		return models.Meeting{}, err
	}
	defer s.release(resourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	meeting, ok := s.meetings[meetingID]
	if !ok {
		return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	if !meeting.Status.CanTransition(status) {
		return models.Meeting{}, &models.InvalidTransitionError{MeetingID: meetingID, From: meeting.Status, To: status}
	}
	if status == models.StatusCancelled {
		s.removeFromIndexLocked(meeting)
	}
	meeting.Status = status
	meeting.UpdatedAt = s.now()
	s.recordLocked(Change{Op: ChangeUpsert, Meeting: *clonePtr(meeting)})
	return *clonePtr(meeting), nil
}

// Cancel is a status transition, not a physical deletion: history survives.
func (s *Store) Cancel(ctx context.Context, meetingID string, lockWait time.Duration) (models.Meeting, error) {
	return s.SetStatus(ctx, meetingID, models.StatusCancelled, lockWait)
}

// Purge physically removes a meeting. Admin-only at the API surface;
// irreversible.
func (s *Store) Purge(ctx context.Context, meetingID string, lockWait time.Duration) error {
	defer observe("purge", s.now())
	s.mu.RLock()
	current, ok := s.meetings[meetingID]
	var resourceID string
	if ok {
		resourceID = current.ResourceID
	}
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		_, isDraft := s.drafts[meetingID]
		delete(s.drafts, meetingID)
		s.mu.Unlock()
		if isDraft {
			return nil
		}
		return &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	if err := s.acquire(ctx, resourceID, lockWait); err != nil {
		return err
	}
	defer s.release(resourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	meeting, ok := s.meetings[meetingID]
	if !ok {
		return &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	s.removeFromIndexLocked(meeting)
	delete(s.meetings, meetingID)
	s.recordLocked(Change{Op: ChangeDelete, Meeting: *clonePtr(meeting)})
	return nil
}

// UpdateAttendees replaces the attendee list. Order preserved, duplicates
// allowed.
func (s *Store) UpdateAttendees(ctx context.Context, meetingID string, attendees []string) (models.Meeting, error) {
	defer observe("update_attendees", s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	meeting, ok := s.meetings[meetingID]
	if !ok {
		return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: meetingID}
	}
	meeting.Attendees = append([]string(nil), attendees...)
	meeting.UpdatedAt = s.now()
	s.recordLocked(Change{Op: ChangeUpsert, Meeting: *clonePtr(meeting)})
	return *clonePtr(meeting), nil
}

func (s *Store) Get(meetingID string) (models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if meeting, ok := s.meetings[meetingID]; ok {
		return *clonePtr(meeting), nil
	}
	if draft, ok := s.drafts[meetingID]; ok {
		return *clonePtr(draft), nil
	}
	return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: meetingID}
}

// QueryWindow returns all non-cancelled committed meetings overlapping the
// interval, optionally filtered by resource, sorted by start time.
// Idempotent: repeated calls with no mutation return identical results.
func (s *Store) QueryWindow(ctx context.Context, resourceID string, window models.Interval) ([]models.Meeting, error) {
	defer observe("query_window", s.now())
	if !window.Valid() {
		return nil, &models.ValidationError{Field: "interval", Reason: "start must be before end"}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Meeting
	if resourceID != "" {
		for _, m := range s.index[resourceID] {
			if m.Interval.Overlaps(window) {
				result = append(result, *clonePtr(m))
			}
		}
	} else {
		for _, m := range s.meetings {
			if m.Status != models.StatusCancelled && m.Interval.Overlaps(window) {
				result = append(result, *clonePtr(m))
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Interval.Start.Equal(result[j].Interval.Start) {
			return result[i].Interval.Start.Before(result[j].Interval.Start)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Snapshot copies every committed meeting (cancelled history included) for
// read-only projections. Safe to use concurrently with bookings.
func (s *Store) Snapshot() []models.Meeting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		result = append(result, *clonePtr(m))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Interval.Start.Equal(result[j].Interval.Start) {
			return result[i].Interval.Start.Before(result[j].Interval.Start)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// MeetingsUsingResource counts active bookings holding a resource. Used as
// the registry's removal guard.
func (s *Store) MeetingsUsingResource(resourceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index[resourceID])
}

// Seed loads persisted meetings at boot, rebuilding the per-resource index.
// No changelog entries are emitted: the records came from durable storage.
func (s *Store) Seed(meetings []models.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range meetings {
		m := clonePtr(&meetings[i])
		s.meetings[m.ID] = m
		if m.Status != models.StatusCancelled {
			s.indexInsertLocked(m)
		}
	}
	s.log.Infof("seeded %d meeting(s) from durable storage", len(meetings))
}

// DrainChanges pops up to limit changelog entries for the flusher.
func (s *Store) DrainChanges(limit int) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.changes) {
		limit = len(s.changes)
	}
	if limit == 0 {
		return nil
	}
	drained := make([]Change, limit)
	copy(drained, s.changes[:limit])
	s.changes = append(s.changes[:0], s.changes[limit:]...)
	return drained
}

func (s *Store) resourceName(resourceID string) (string, error) {
	if resourceID == "" {
		return "", nil
	}
	resource, err := s.resources.Get(resourceID)
	if err != nil {
		return "", err
	}
	return resource.Name, nil
}

func (s *Store) insertLocked(meeting *models.Meeting) {
	s.meetings[meeting.ID] = meeting
	if meeting.Status != models.StatusCancelled {
		s.indexInsertLocked(meeting)
	}
	s.recordLocked(Change{Op: ChangeUpsert, Meeting: *clonePtr(meeting)})
}

func (s *Store) indexInsertLocked(meeting *models.Meeting) {
	idx := s.index[meeting.ResourceID]
	pos := sort.Search(len(idx), func(i int) bool {
		return idx[i].Interval.Start.After(meeting.Interval.Start)
	})
	idx = append(idx, nil)
	copy(idx[pos+1:], idx[pos:])
	idx[pos] = meeting
	s.index[meeting.ResourceID] = idx
}

func (s *Store) removeFromIndexLocked(meeting *models.Meeting) {
	idx := s.index[meeting.ResourceID]
	for i, m := range idx {
		if m.ID == meeting.ID {
			s.index[meeting.ResourceID] = append(idx[:i], idx[i+1:]...)
			return
		}
	}
}

func (s *Store) attendeeIndexLocked() map[string][]*models.Meeting {
	byAttendee := make(map[string][]*models.Meeting)
	for _, m := range s.meetings {
		if m.Status == models.StatusCancelled {
			continue
		}
		for _, attendee := range m.Attendees {
			byAttendee[attendee] = append(byAttendee[attendee], m)
		}
	}
	return byAttendee
}

func (s *Store) recordLocked(change Change) {
	if len(s.changes) >= maxChangelog {
		s.log.Warn("changelog full, dropping oldest entry")
		s.changes = s.changes[1:]
	}
	s.changes = append(s.changes, change)
}

func clonePtr(m *models.Meeting) *models.Meeting {
	clone := *m
	clone.Attendees = append([]string(nil), m.Attendees...)
	return &clone
}

func observe(method string, start time.Time) {
	metrics.OpDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
