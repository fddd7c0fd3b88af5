package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/pershin-daniil/MeetingRooms/pkg/models"
	"github.com/pershin-daniil/MeetingRooms/pkg/schedule"
	"github.com/sirupsen/logrus"
)

const (
	defaultInterval = 2 * time.Second
	drainBatch      = 256
)

type Source interface {
	DrainChanges(limit int) []schedule.Change
}

type Durable interface {
	UpsertMeeting(ctx context.Context, meeting models.Meeting) error
	DeleteMeeting(ctx context.Context, id string) error
}

// Flusher drains the schedule changelog into durable storage. Write-behind:
// the in-memory store stays authoritative, rows trail it by at most one
// interval. Entries that fail to flush are retried next tick.
type Flusher struct {
	log      *logrus.Entry
	source   Source
	durable  Durable
	interval time.Duration
	pending  []schedule.Change
}

func New(log *logrus.Logger, source Source, durable Durable) *Flusher {
	return &Flusher{
		log:      log.WithField("component", "flusher"),
		source:   source,
		durable:  durable,
		interval: defaultInterval,
	}
}

// Run flushes until ctx is cancelled, then drains one final time.
func (w *Flusher) Run(ctx context.Context) error {
	for {
		if err := w.flush(ctx); err != nil {
			w.log.Warnf("err flushing changes, will retry: %v", err)
		}
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), w.interval)
			defer cancel()
			if err := w.flush(flushCtx); err != nil {
				return fmt.Errorf("err flushing on shutdown: %w", err)
			}
			return nil
		case <-time.After(w.interval):
		}
	}
}

func (w *Flusher) flush(ctx context.Context) error {
	w.pending = append(w.pending, w.source.DrainChanges(drainBatch)...)
	for len(w.pending) > 0 {
		change := w.pending[0]
		var err error
		switch change.Op {
		case schedule.ChangeDelete:
			err = w.durable.DeleteMeeting(ctx, change.Meeting.ID)
		default:
			err = w.durable.UpsertMeeting(ctx, change.Meeting)
		}
		if err != nil {
			return err
		}
		w.pending = w.pending[1:]
	}
	return nil
}
