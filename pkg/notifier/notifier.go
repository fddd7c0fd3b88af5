package notifier

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DummyNotifier logs booking events instead of delivering them anywhere.
type DummyNotifier struct {
	log *logrus.Entry
}

func New(log *logrus.Logger) *DummyNotifier {
	return &DummyNotifier{
		log: log.WithField("component", "notifier"),
	}
}

func (n *DummyNotifier) Notify(_ context.Context, message string, meetingID string) error {
	n.log.Infof("notifying about meeting %s: %s", meetingID, message)
	return nil
}
