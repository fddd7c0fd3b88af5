package schedule

import (
	"fmt"
	"sort"

	"github.com/pershin-daniil/MeetingRooms/pkg/models"
)

// Candidate describes a booking attempt being checked against existing
// meetings. ExcludeMeetingID skips the meeting itself during reschedule.
type Candidate struct {
	Interval         models.Interval
	ResourceID       string
	ExcludeMeetingID string
}

// FindConflicts reports every non-cancelled meeting in the resource index
// overlapping the candidate. The index must be sorted by interval start.
// A candidate without a resource never conflicts on resource grounds.
// Identical intervals are each reported, never merged.
func FindConflicts(candidate Candidate, index []*models.Meeting, resourceName string) []models.ConflictDescriptor {
	if candidate.ResourceID == "" {
		return nil
	}
	var conflicts []models.ConflictDescriptor
	// Only the right boundary is safe to binary-search: starts are ordered but
	// ends are not, because a forced double-booking can park a short meeting
	// after a longer one. Everything starting before the candidate end is a
	// potential overlap and gets checked.
	limit := sort.Search(len(index), func(i int) bool {
		return !index[i].Interval.Start.Before(candidate.Interval.End)
	})
	for i := 0; i < limit; i++ {
		m := index[i]
		if m.ID == candidate.ExcludeMeetingID || m.Status == models.StatusCancelled {
			continue
		}
		overlap, ok := candidate.Interval.Overlap(m.Interval)
		if !ok {
			continue
		}
		conflicts = append(conflicts, models.ConflictDescriptor{
			MeetingID:    m.ID,
			MeetingTitle: m.Title,
			ResourceID:   candidate.ResourceID,
			ResourceName: resourceName,
			Overlap:      overlap,
			Message: fmt.Sprintf("%s already booked %s-%s by %q", resourceName,
				overlap.Start.Format("15:04"), overlap.End.Format("15:04"), m.Title),
		})
	}
	return conflicts
}

// FindAttendeeConflicts reports double-booked attendees: other meetings in
// which any of the given attendees appears during the candidate interval.
// Opt-in and advisory, independent of resource contention.
func FindAttendeeConflicts(candidate Candidate, attendees []string, byAttendee map[string][]*models.Meeting) []models.ConflictDescriptor {
	var conflicts []models.ConflictDescriptor
	seen := make(map[string]bool)
	for _, attendee := range attendees {
		if attendee == "" || seen[attendee] {
			continue
		}
		seen[attendee] = true
		for _, m := range byAttendee[attendee] {
			if m.ID == candidate.ExcludeMeetingID || m.Status == models.StatusCancelled {
				continue
			}
			overlap, ok := candidate.Interval.Overlap(m.Interval)
			if !ok {
				continue
			}
			conflicts = append(conflicts, models.ConflictDescriptor{
				MeetingID:    m.ID,
				MeetingTitle: m.Title,
				Attendee:     attendee,
				Overlap:      overlap,
				Message: fmt.Sprintf("%s is already in %q %s-%s", attendee, m.Title,
					overlap.Start.Format("15:04"), overlap.End.Format("15:04")),
			})
		}
	}
	return conflicts
}
