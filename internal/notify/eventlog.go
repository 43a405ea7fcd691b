package notify

import "github.com/oszuidwest/zwfm-micprivacy/internal/eventlog"

// EventLogSubscriber journals privacy state changes.
type EventLogSubscriber struct {
	Logger *eventlog.Logger
}

// Name implements Subscriber.
func (e EventLogSubscriber) Name() string {
	return "Privacy event log"
}

// HandleNotification implements Subscriber.
func (e EventLogSubscriber) HandleNotification(n Notification) error {
	s, err := n.Settings()
	if err != nil {
		return err
	}
	return e.Logger.LogPrivacy(s.Mode.String(), s.State, s.PrivacyMask, s.MaxRampTimeMs)
}
