package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pershin-daniil/MeetingRooms/pkg/metrics"
	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

//go:embed migrations
var migrations embed.FS

const retries = 3

// Store is the durable record layer: one row per meeting, one per resource.
// The in-memory per-resource index is derived and rebuilt at boot, never
// persisted.
type Store struct {
	log *logrus.Entry
	db  *sqlx.DB
}

func New(ctx context.Context, log *logrus.Logger, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{
		log: log.WithField("component", "pgstore"),
		db:  db,
	}, nil
}

func (s *Store) Migrate(direction migrate.MigrationDirection) error {
	assetDir := func(path string) ([]string, error) {
		dirEntry, err := migrations.ReadDir(path)
		if err != nil {
			return nil, err
		}
		entries := make([]string, 0)
		for _, e := range dirEntry {
			entries = append(entries, e.Name())
		}
		return entries, nil
	}
	asset := migrate.AssetMigrationSource{
		Asset:    migrations.ReadFile,
		AssetDir: assetDir,
		Dir:      "migrations",
	}
	_, err := migrate.Exec(s.db.DB, "postgres", asset, direction)
	return err
}

type meetingRecord struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	StartAt     time.Time `db:"start_at"`
	EndAt       time.Time `db:"end_at"`
	ResourceID  string    `db:"resource_id"`
	IsOnline    bool      `db:"is_online"`
	Attendees   []byte    `db:"attendees"`
	Type        string    `db:"type"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toRecord(m models.Meeting) (meetingRecord, error) {
	attendees, err := json.Marshal(m.Attendees)
	if err != nil {
		return meetingRecord{}, fmt.Errorf("err encoding attendees: %w", err)
	}
	return meetingRecord{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		StartAt:     m.Interval.Start,
		EndAt:       m.Interval.End,
		ResourceID:  m.ResourceID,
		IsOnline:    m.IsOnline,
		Attendees:   attendees,
		Type:        string(m.Type),
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func (r meetingRecord) toMeeting() (models.Meeting, error) {
	var attendees []string
	if len(r.Attendees) > 0 {
		if err := json.Unmarshal(r.Attendees, &attendees); err != nil {
			return models.Meeting{}, fmt.Errorf("err decoding attendees: %w", err)
		}
	}
	return models.Meeting{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Interval:    models.NewInterval(r.StartAt, r.EndAt),
		ResourceID:  r.ResourceID,
		IsOnline:    r.IsOnline,
		Attendees:   attendees,
		Type:        models.MeetingType(r.Type),
		Status:      models.MeetingStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (s *Store) UpsertMeeting(ctx context.Context, meeting models.Meeting) error {
	defer s.observe("upsert_meeting", time.Now())
	record, err := toRecord(meeting)
	if err != nil {
		return err
	}
	query := `
INSERT INTO meetings (id, title, description, start_at, end_at, resource_id, is_online, attendees, type, status, created_at, updated_at)
VALUES (:id, :title, :description, :start_at, :end_at, :resource_id, :is_online, :attendees, :type, :status, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE
    SET title = EXCLUDED.title,
    description = EXCLUDED.description,
    start_at = EXCLUDED.start_at,
    end_at = EXCLUDED.end_at,
    resource_id = EXCLUDED.resource_id,
    is_online = EXCLUDED.is_online,
    attendees = EXCLUDED.attendees,
    type = EXCLUDED.type,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at;`
	for i := 0; i < retries; i++ {
		if _, err = s.db.NamedExecContext(ctx, query, record); err != nil {
			metrics.PgErrCount.WithLabelValues("upsert_meeting").Inc()
			continue
		}
		return nil
	}
	return fmt.Errorf("err upserting meeting %s: %w", meeting.ID, err)
}

func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	defer s.observe("delete_meeting", time.Now())
	var err error
	for i := 0; i < retries; i++ {
		if _, err = s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = $1`, id); err != nil {
			metrics.PgErrCount.WithLabelValues("delete_meeting").Inc()
			continue
		}
		return nil
	}
	return fmt.Errorf("err deleting meeting %s: %w", id, err)
}

func (s *Store) LoadMeetings(ctx context.Context) ([]models.Meeting, error) {
	defer s.observe("load_meetings", time.Now())
	var records []meetingRecord
	var err error
	for i := 0; i < retries; i++ {
		if err = s.db.SelectContext(ctx, &records, `SELECT * FROM meetings ORDER BY start_at`); err != nil {
			metrics.PgErrCount.WithLabelValues("load_meetings").Inc()
			continue
		}
		meetings := make([]models.Meeting, 0, len(records))
		for _, r := range records {
			meeting, er := r.toMeeting()
			if er != nil {
				return nil, er
			}
			meetings = append(meetings, meeting)
		}
		return meetings, nil
	}
	return nil, fmt.Errorf("err loading meetings: %w", err)
}

func (s *Store) UpsertResource(ctx context.Context, resource models.Resource) error {
	defer s.observe("upsert_resource", time.Now())
	query := `
INSERT INTO resources (id, name, kind, capacity)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
    SET name = EXCLUDED.name,
    kind = EXCLUDED.kind,
    capacity = EXCLUDED.capacity;`
	var err error
	for i := 0; i < retries; i++ {
		if _, err = s.db.ExecContext(ctx, query, resource.ID, resource.Name, string(resource.Kind), resource.Capacity); err != nil {
			metrics.PgErrCount.WithLabelValues("upsert_resource").Inc()
			continue
		}
		return nil
	}
	return fmt.Errorf("err upserting resource %s: %w", resource.ID, err)
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	defer s.observe("delete_resource", time.Now())
	var err error
	for i := 0; i < retries; i++ {
		if _, err = s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
			metrics.PgErrCount.WithLabelValues("delete_resource").Inc()
			continue
		}
		return nil
	}
	return fmt.Errorf("err deleting resource %s: %w", id, err)
}

func (s *Store) LoadResources(ctx context.Context) ([]models.Resource, error) {
	defer s.observe("load_resources", time.Now())
	type resourceRecord struct {
		ID       string `db:"id"`
		Name     string `db:"name"`
		Kind     string `db:"kind"`
		Capacity int    `db:"capacity"`
	}
	var records []resourceRecord
	var err error
	for i := 0; i < retries; i++ {
		if err = s.db.SelectContext(ctx, &records, `SELECT * FROM resources ORDER BY name`); err != nil {
			metrics.PgErrCount.WithLabelValues("load_resources").Inc()
			continue
		}
		resources := make([]models.Resource, 0, len(records))
		for _, r := range records {
			resources = append(resources, models.Resource{
				ID:       r.ID,
				Name:     r.Name,
				Kind:     models.ResourceKind(r.Kind),
				Capacity: r.Capacity,
			})
		}
		return resources, nil
	}
	return nil, fmt.Errorf("err loading resources: %w", err)
}

func (s *Store) GetMeeting(ctx context.Context, id string) (models.Meeting, error) {
	defer s.observe("get_meeting", time.Now())
	var record meetingRecord
	var err error
	for i := 0; i < retries; i++ {
		err = s.db.GetContext(ctx, &record, `SELECT * FROM meetings WHERE id = $1`, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return models.Meeting{}, &models.MeetingNotFoundError{MeetingID: id}
		case err != nil:
			metrics.PgErrCount.WithLabelValues("get_meeting").Inc()
			continue
		}
		return record.toMeeting()
	}
	return models.Meeting{}, fmt.Errorf("err getting meeting %s: %w", id, err)
}

func (s *Store) ResetTables(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE `+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) observe(method string, start time.Time) {
	metrics.PgDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
