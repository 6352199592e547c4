package notifier

import (
	"time"

	"notifyd/internal/schedule"
)

// Config controls the intake pipeline.
type Config struct {
	Enabled     bool
	QueueSize   int
	RatePerSec  float64 // 0 disables rate limiting
	Burst       int
	HistorySize int
	// SubmitTimeout bounds Submit when the caller's context has no deadline.
	SubmitTimeout time.Duration
	// Journal enables appends to the storage backend.
	Journal bool
}

// ScheduledEvent describes one scheduling decision. It is the payload of
// "notifier.scheduled" events and the element type of History.
type ScheduledEvent struct {
	ID          string        `json:"id,omitempty"`
	Account     string        `json:"account"`
	Priority    string        `json:"priority"`
	Created     time.Time     `json:"created"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Seq         uint64        `json:"seq"`
	Rule        string        `json:"rule"`
	Shifts      int           `json:"shifts,omitempty"`
	Delay       time.Duration `json:"delay"`
}

func newScheduledEvent(e schedule.Entry, dec schedule.Decision) ScheduledEvent {
	return ScheduledEvent{
		ID:          e.Notification.ID,
		Account:     e.Notification.Account,
		Priority:    e.Notification.Priority.String(),
		Created:     e.Notification.Created,
		ScheduledAt: e.ScheduledAt,
		Seq:         e.Seq,
		Rule:        string(dec.Rule),
		Shifts:      dec.Shifts,
		Delay:       e.Delay(),
	}
}

// RejectedEvent is the payload of "notifier.rejected" events.
type RejectedEvent struct {
	ID      string `json:"id,omitempty"`
	Account string `json:"account"`
	Reason  string `json:"reason"`
	Error   string `json:"error"`
}

// QueuedEvent is the payload of "notifier.queued" events.
type QueuedEvent struct {
	ID      string `json:"id,omitempty"`
	Account string `json:"account"`
	Depth   int    `json:"depth"`
}
