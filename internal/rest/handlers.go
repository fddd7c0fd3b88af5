package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/pershin-daniil/MeetingRooms/pkg/schedule"
)

type App interface {
	RegisterResource(ctx context.Context, resource models.Resource) (string, error)
	ListResources(ctx context.Context) ([]models.Resource, error)
	RemoveResource(ctx context.Context, id string) error
	ProposeMeeting(ctx context.Context, draft models.MeetingDraft, opts schedule.ProposeOptions) (schedule.ProposeResult, error)
	CommitMeeting(ctx context.Context, meetingID string) (models.Meeting, error)
	DiscardMeeting(ctx context.Context, meetingID string) error
	RescheduleMeeting(ctx context.Context, meetingID string, newInterval models.Interval, newResourceID *string) (models.Meeting, []models.ConflictDescriptor, error)
	CancelMeeting(ctx context.Context, meetingID string) (models.Meeting, error)
	SetMeetingStatus(ctx context.Context, meetingID string, status models.MeetingStatus) (models.Meeting, error)
	UpdateAttendees(ctx context.Context, meetingID string, attendees []string) (models.Meeting, error)
	PurgeMeeting(ctx context.Context, meetingID string) error
	GetMeeting(ctx context.Context, meetingID string) (models.Meeting, error)
	QueryWindow(ctx context.Context, resourceID string, window models.Interval) ([]models.Meeting, error)
	BuildCalendar(ctx context.Context, view models.CalendarView, anchor time.Time, loc *time.Location) (interface{}, error)
	Stats(ctx context.Context, now time.Time, loc *time.Location) (models.ScheduleStats, error)
}

type ErrorResponse struct {
	Error     string                      `json:"error"`
	Conflicts []models.ConflictDescriptor `json:"conflicts,omitempty"`
}

type proposeRequest struct {
	models.MeetingDraft
	Force          bool `json:"force"`
	AutoCommit     bool `json:"autoCommit"`
	CheckAttendees bool `json:"checkAttendees"`
}

type proposeResponse struct {
	Meeting           *models.Meeting             `json:"meeting,omitempty"`
	Conflicts         []models.ConflictDescriptor `json:"conflicts,omitempty"`
	AttendeeConflicts []models.ConflictDescriptor `json:"attendeeConflicts,omitempty"`
	Committed         bool                        `json:"committed"`
}

type rescheduleRequest struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ResourceID *string   `json:"resourceId"`
}

type rescheduleResponse struct {
	Meeting   *models.Meeting             `json:"meeting,omitempty"`
	Conflicts []models.ConflictDescriptor `json:"conflicts,omitempty"`
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	_, err := fmt.Fprintf(w, "%s\n", s.version)
	if err != nil {
		s.log.Warnf("err during writing to connection: %v", err)
	}
}

func (s *Server) listResourcesHandler(w http.ResponseWriter, r *http.Request) {
	resources, err := s.app.ListResources(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, resources)
}

func (s *Server) registerResourceHandler(w http.ResponseWriter, r *http.Request) {
	var resource models.Resource
	if err := json.NewDecoder(r.Body).Decode(&resource); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.app.RegisterResource(r.Context(), resource)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) removeResourceHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.app.RemoveResource(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if claims := s.getClaims(r.Context()); claims != nil {
		s.log.Infof("resource %s removed by %s", id, claims.UserID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) proposeHandler(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.app.ProposeMeeting(r.Context(), req.MeetingDraft, schedule.ProposeOptions{
		Force:          req.Force,
		AutoCommit:     req.AutoCommit,
		CheckAttendees: req.CheckAttendees,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Committed {
		status = http.StatusCreated
	} else if req.AutoCommit {
		status = http.StatusConflict
	}
	s.writeResponse(w, status, proposeResponse{
		Meeting:           result.Meeting,
		Conflicts:         result.Conflicts,
		AttendeeConflicts: result.AttendeeConflicts,
		Committed:         result.Committed,
	})
}

func (s *Server) getMeetingHandler(w http.ResponseWriter, r *http.Request) {
	meeting, err := s.app.GetMeeting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, meeting)
}

func (s *Server) commitHandler(w http.ResponseWriter, r *http.Request) {
	meeting, err := s.app.CommitMeeting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusCreated, meeting)
}

func (s *Server) discardHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DiscardMeeting(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	meeting, err := s.app.CancelMeeting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, meeting)
}

func (s *Server) rescheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	meeting, conflicts, err := s.app.RescheduleMeeting(r.Context(), chi.URLParam(r, "id"),
		models.NewInterval(req.Start, req.End), req.ResourceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(conflicts) > 0 {
		s.writeResponse(w, http.StatusConflict, rescheduleResponse{Conflicts: conflicts})
		return
	}
	s.writeResponse(w, http.StatusOK, rescheduleResponse{Meeting: &meeting})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.MeetingStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	meeting, err := s.app.SetMeetingStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, meeting)
}

func (s *Server) attendeesHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Attendees []string `json:"attendees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	meeting, err := s.app.UpdateAttendees(r.Context(), chi.URLParam(r, "id"), req.Attendees)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, meeting)
}

func (s *Server) purgeHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.app.PurgeMeeting(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if claims := s.getClaims(r.Context()); claims != nil {
		s.log.Infof("meeting %s purged by %s", id, claims.UserID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) queryWindowHandler(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, fmt.Errorf("bad from: %w", err))
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, fmt.Errorf("bad to: %w", err))
		return
	}
	meetings, err := s.app.QueryWindow(r.Context(), r.URL.Query().Get("resource"), models.NewInterval(from, to))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, meetings)
}

func (s *Server) calendarHandler(w http.ResponseWriter, r *http.Request) {
	view := models.CalendarView(chi.URLParam(r, "view"))
	anchor, err := parseAnchor(r.URL.Query().Get("anchor"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	loc, err := parseTimezone(r.URL.Query().Get("tz"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	grid, err := s.app.BuildCalendar(r.Context(), view, anchor, loc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, grid)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	loc, err := parseTimezone(r.URL.Query().Get("tz"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.app.Stats(r.Context(), time.Now(), loc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, stats)
}

func parseAnchor(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	if anchor, err := time.Parse("2006-01-02", raw); err == nil {
		return anchor, nil
	}
	anchor, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad anchor: %w", err)
	}
	return anchor, nil
}

func parseTimezone(raw string) (*time.Location, error) {
	if raw == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("bad tz: %w", err)
	}
	return loc, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var stale *models.StaleConflictError
	switch {
	case errors.Is(err, models.ErrValidation):
		s.writeResponse(w, http.StatusBadRequest, err)
	case errors.Is(err, models.ErrUnknownResource), errors.Is(err, models.ErrMeetingNotFound):
		s.writeResponse(w, http.StatusNotFound, err)
	case errors.As(err, &stale):
		s.writeJSON(w, http.StatusConflict, ErrorResponse{Error: stale.Error(), Conflicts: stale.Conflicts})
	case errors.Is(err, models.ErrDuplicateResource), errors.Is(err, models.ErrResourceInUse), errors.Is(err, models.ErrInvalidTransition):
		s.writeResponse(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrBusy):
		s.writeResponse(w, http.StatusServiceUnavailable, err)
	default:
		s.log.Warnf("err handling request: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, data interface{}) {
	if x, ok := data.(error); ok {
		s.writeJSON(w, status, ErrorResponse{Error: x.Error()})
		return
	}
	s.writeJSON(w, status, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warnf("err during encoding response: %v", err)
	}
}
