package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type dirStub map[string]models.Resource

func (d dirStub) Get(id string) (models.Resource, error) {
	resource, ok := d[id]
	if !ok {
		return models.Resource{}, &models.UnknownResourceError{ResourceID: id}
	}
	return resource, nil
}

func newTestStore() *Store {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return NewStore(log, dirStub{
		"room-a": {ID: "room-a", Name: "Meeting Room A", Kind: models.KindRoom},
		"room-b": {ID: "room-b", Name: "Meeting Room B", Kind: models.KindRoom},
	})
}

func draftAt(title, resourceID string, startH, startM, endH, endM int) models.MeetingDraft {
	return models.MeetingDraft{
		Title:      title,
		Start:      at(startH, startM),
		End:        at(endH, endM),
		ResourceID: resourceID,
		Status:     models.StatusConfirmed,
	}
}

func TestProposeValidation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	tests := []struct {
		name  string
		draft models.MeetingDraft
		want  error
	}{
		{"empty title", draftAt("", "room-a", 9, 0, 10, 0), models.ErrValidation},
		{"inverted interval", draftAt("x", "room-a", 10, 0, 9, 0), models.ErrValidation},
		{"zero length", draftAt("x", "room-a", 9, 0, 9, 0), models.ErrValidation},
		{"unknown resource", draftAt("x", "room-z", 9, 0, 10, 0), models.ErrUnknownResource},
		{"created cancelled", func() models.MeetingDraft {
			d := draftAt("x", "room-a", 9, 0, 10, 0)
			d.Status = models.StatusCancelled
			return d
		}(), models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Propose(ctx, tt.draft, ProposeOptions{AutoCommit: true})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProposeAutoCommit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("standup", "room-a", 9, 0, 10, 30), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, result.Committed)
	require.Empty(t, result.Conflicts)
	require.NotEmpty(t, result.Meeting.ID)

	meetings, err := s.QueryWindow(ctx, "room-a", models.NewInterval(at(0, 0), at(23, 0)))
	require.NoError(t, err)
	require.Len(t, meetings, 1)
	require.Equal(t, result.Meeting.ID, meetings[0].ID)
}

func TestProposeConflictRejected(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	winner, err := s.Propose(ctx, draftAt("first", "room-a", 9, 0, 10, 30), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, winner.Committed)

	loser, err := s.Propose(ctx, draftAt("second", "room-a", 10, 0, 11, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.False(t, loser.Committed)
	require.Nil(t, loser.Meeting)
	require.Len(t, loser.Conflicts, 1)
	require.Equal(t, winner.Meeting.ID, loser.Conflicts[0].MeetingID)
	require.Equal(t, models.NewInterval(at(10, 0), at(10, 30)), loser.Conflicts[0].Overlap)

	// Adjacent booking is not a conflict.
	adjacent, err := s.Propose(ctx, draftAt("third", "room-a", 10, 30, 11, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, adjacent.Committed)
	require.Empty(t, adjacent.Conflicts)
}

func TestProposeForce(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Propose(ctx, draftAt("first", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	forced, err := s.Propose(ctx, draftAt("override", "room-a", 9, 30, 10, 30), ProposeOptions{AutoCommit: true, Force: true})
	require.NoError(t, err)
	require.True(t, forced.Committed)
	require.Len(t, forced.Conflicts, 1, "conflicts are still reported when forced")
}

func TestProposeDetectsConflictAfterForce(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	long, err := s.Propose(ctx, draftAt("long", "room-a", 9, 0, 12, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, long.Committed)

	forced, err := s.Propose(ctx, draftAt("forced", "room-a", 10, 0, 10, 30), ProposeOptions{AutoCommit: true, Force: true})
	require.NoError(t, err)
	require.True(t, forced.Committed)

	// The forced insert broke end ordering in the index; detection must
	// still see the long meeting behind it.
	late, err := s.Propose(ctx, draftAt("late", "room-a", 11, 0, 11, 30), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.False(t, late.Committed)
	require.Len(t, late.Conflicts, 1)
	require.Equal(t, long.Meeting.ID, late.Conflicts[0].MeetingID)
}

func TestProposeOnlineNoResource(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	first := draftAt("online one", "", 9, 0, 10, 0)
	first.IsOnline = true
	second := draftAt("online two", "", 9, 0, 10, 0)
	second.IsOnline = true

	r1, err := s.Propose(ctx, first, ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, r1.Committed)
	r2, err := s.Propose(ctx, second, ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, r2.Committed)
	require.Empty(t, r2.Conflicts, "meetings without a room never conflict on resource grounds")
}

func TestProposeThenCommit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("draft", "room-a", 9, 0, 10, 0), ProposeOptions{})
	require.NoError(t, err)
	require.False(t, result.Committed)
	require.Empty(t, result.Conflicts)

	// A parked draft is invisible to queries and to other bookings.
	meetings, err := s.QueryWindow(ctx, "room-a", models.NewInterval(at(0, 0), at(23, 0)))
	require.NoError(t, err)
	require.Empty(t, meetings)

	committed, err := s.Commit(ctx, result.Meeting.ID, 0)
	require.NoError(t, err)
	require.Equal(t, result.Meeting.ID, committed.ID)

	meetings, err = s.QueryWindow(ctx, "room-a", models.NewInterval(at(0, 0), at(23, 0)))
	require.NoError(t, err)
	require.Len(t, meetings, 1)
}

func TestCommitStaleConflict(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	draft, err := s.Propose(ctx, draftAt("slow", "room-a", 9, 0, 10, 0), ProposeOptions{})
	require.NoError(t, err)
	require.Empty(t, draft.Conflicts)

	competitor, err := s.Propose(ctx, draftAt("fast", "room-a", 9, 30, 10, 30), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, competitor.Committed)

	_, err = s.Commit(ctx, draft.Meeting.ID, 0)
	require.ErrorIs(t, err, models.ErrStaleConflict)
	var stale *models.StaleConflictError
	require.ErrorAs(t, err, &stale)
	require.Len(t, stale.Conflicts, 1)
	require.Equal(t, competitor.Meeting.ID, stale.Conflicts[0].MeetingID)
}

func TestDiscard(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("draft", "room-a", 9, 0, 10, 0), ProposeOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Discard(result.Meeting.ID))
	_, err = s.Commit(ctx, result.Meeting.ID, 0)
	require.ErrorIs(t, err, models.ErrMeetingNotFound)
	require.ErrorIs(t, s.Discard(result.Meeting.ID), models.ErrMeetingNotFound)
}

func TestRescheduleSelfExclusion(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("only", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	// New interval overlaps the meeting's own old slot; must still succeed.
	moved, conflicts, err := s.Reschedule(ctx, result.Meeting.ID, models.NewInterval(at(9, 30), at(10, 30)), nil, 0)
	require.NoError(t, err)
	require.Empty(t, conflicts)
	require.Equal(t, models.NewInterval(at(9, 30), at(10, 30)), moved.Interval)
}

func TestRescheduleRejected(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	blocker, err := s.Propose(ctx, draftAt("blocker", "room-a", 11, 0, 12, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	victim, err := s.Propose(ctx, draftAt("victim", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	_, conflicts, err := s.Reschedule(ctx, victim.Meeting.ID, models.NewInterval(at(11, 30), at(12, 30)), nil, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, blocker.Meeting.ID, conflicts[0].MeetingID)

	// Swap-or-reject: the meeting keeps its old slot.
	current, err := s.Get(victim.Meeting.ID)
	require.NoError(t, err)
	require.Equal(t, models.NewInterval(at(9, 0), at(10, 0)), current.Interval)
}

func TestRescheduleAcrossResources(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("moving", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	// Same slot is taken on room B.
	_, err = s.Propose(ctx, draftAt("squatter", "room-b", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	roomB := "room-b"
	_, conflicts, err := s.Reschedule(ctx, result.Meeting.ID, models.NewInterval(at(9, 0), at(10, 0)), &roomB, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	moved, conflicts, err := s.Reschedule(ctx, result.Meeting.ID, models.NewInterval(at(10, 0), at(11, 0)), &roomB, 0)
	require.NoError(t, err)
	require.Empty(t, conflicts)
	require.Equal(t, "room-b", moved.ResourceID)

	// The old room is free again.
	free, err := s.Propose(ctx, draftAt("replacement", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, free.Committed)
}

func TestCancelAndQueryWindow(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("doomed", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	cancelled, err := s.Cancel(ctx, result.Meeting.ID, 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)

	window := models.NewInterval(at(8, 0), at(11, 0))
	meetings, err := s.QueryWindow(ctx, "room-a", window)
	require.NoError(t, err)
	require.Empty(t, meetings, "cancelled meetings leave the active view")

	again, err := s.QueryWindow(ctx, "room-a", window)
	require.NoError(t, err)
	require.Equal(t, meetings, again, "queryWindow is idempotent")

	// The slot is free for new bookings, but history survives.
	replacement, err := s.Propose(ctx, draftAt("replacement", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.True(t, replacement.Committed)
	kept, err := s.Get(result.Meeting.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, kept.Status)

	_, err = s.Cancel(ctx, result.Meeting.ID, 0)
	require.ErrorIs(t, err, models.ErrInvalidTransition, "cancelled is terminal")
}

func TestSetStatus(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	draft := draftAt("pending", "room-a", 9, 0, 10, 0)
	draft.Status = models.StatusPending
	result, err := s.Propose(ctx, draft, ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	confirmed, err := s.SetStatus(ctx, result.Meeting.ID, models.StatusConfirmed, 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, confirmed.Status)

	_, err = s.SetStatus(ctx, result.Meeting.ID, models.StatusPending, 0)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestPurge(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("gone", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.NoError(t, s.Purge(ctx, result.Meeting.ID, 0))

	_, err = s.Get(result.Meeting.ID)
	require.ErrorIs(t, err, models.ErrMeetingNotFound)
	require.ErrorIs(t, s.Purge(ctx, result.Meeting.ID, 0), models.ErrMeetingNotFound)
}

func TestUpdateAttendees(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("people", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	// Order preserved, duplicates allowed.
	updated, err := s.UpdateAttendees(ctx, result.Meeting.ID, []string{"John", "Mary", "John"})
	require.NoError(t, err)
	require.Equal(t, []string{"John", "Mary", "John"}, updated.Attendees)
}

func TestQueryWindowSorted(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for _, hours := range [][2]int{{14, 15}, {9, 10}, {11, 12}} {
		_, err := s.Propose(ctx, draftAt("m", "room-a", hours[0], 0, hours[1], 0), ProposeOptions{AutoCommit: true})
		require.NoError(t, err)
	}
	_, err := s.Propose(ctx, draftAt("other room", "room-b", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)

	meetings, err := s.QueryWindow(ctx, "room-a", models.NewInterval(at(0, 0), at(23, 0)))
	require.NoError(t, err)
	require.Len(t, meetings, 3)
	for i := 1; i < len(meetings); i++ {
		require.False(t, meetings[i].Interval.Start.Before(meetings[i-1].Interval.Start))
	}

	all, err := s.QueryWindow(ctx, "", models.NewInterval(at(0, 0), at(23, 0)))
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestConcurrentProposeSameSlot(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	results := make([]ProposeResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.Propose(ctx, draftAt("race", "room-b", 14, 0, 15, 0), ProposeOptions{AutoCommit: true})
			require.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	var winner, loser *ProposeResult
	for i := range results {
		if results[i].Committed {
			require.Nil(t, winner, "exactly one concurrent proposal may win")
			winner = &results[i]
		} else {
			loser = &results[i]
		}
	}
	require.NotNil(t, winner)
	require.NotNil(t, loser)
	require.Empty(t, winner.Conflicts)
	require.Len(t, loser.Conflicts, 1)
	require.Equal(t, winner.Meeting.ID, loser.Conflicts[0].MeetingID)
}

func TestProposeBusyOnHeldLock(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.acquire(ctx, "room-a", time.Second))
	defer s.release("room-a")

	_, err := s.Propose(ctx, draftAt("blocked", "room-a", 9, 0, 10, 0),
		ProposeOptions{AutoCommit: true, LockWait: 20 * time.Millisecond})
	require.ErrorIs(t, err, models.ErrBusy)
}

func TestDrainChanges(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	result, err := s.Propose(ctx, draftAt("tracked", "room-a", 9, 0, 10, 0), ProposeOptions{AutoCommit: true})
	require.NoError(t, err)
	require.NoError(t, s.Purge(ctx, result.Meeting.ID, 0))

	changes := s.DrainChanges(10)
	require.Len(t, changes, 2)
	require.Equal(t, ChangeUpsert, changes[0].Op)
	require.Equal(t, ChangeDelete, changes[1].Op)
	require.Equal(t, result.Meeting.ID, changes[0].Meeting.ID)

	require.Empty(t, s.DrainChanges(10), "drained entries are gone")
}

// Core safety invariant: after any sequence of successful commits and
// reschedules, no two active meetings on the same room overlap.
func TestNoOverlapInvariant(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	slots := [][4]int{
		{9, 0, 10, 0}, {9, 30, 10, 30}, {10, 0, 11, 0}, {8, 0, 12, 0},
		{11, 0, 11, 45}, {11, 30, 12, 30}, {13, 0, 14, 0}, {13, 30, 15, 0},
	}
	for _, room := range []string{"room-a", "room-b"} {
		for _, slot := range slots {
			_, err := s.Propose(ctx, draftAt("m", room, slot[0], slot[1], slot[2], slot[3]), ProposeOptions{AutoCommit: true})
			require.NoError(t, err)
		}
	}

	for _, room := range []string{"room-a", "room-b"} {
		meetings, err := s.QueryWindow(ctx, room, models.NewInterval(at(0, 0), at(23, 0)))
		require.NoError(t, err)
		for i := range meetings {
			for j := i + 1; j < len(meetings); j++ {
				require.False(t, meetings[i].Interval.Overlaps(meetings[j].Interval),
					"meetings %s and %s overlap on %s", meetings[i].ID, meetings[j].ID, room)
			}
		}
	}
}
