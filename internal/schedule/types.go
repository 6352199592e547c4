package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidNotification is returned for input that breaks the data model
// (missing account, zero creation time, unknown priority).
var ErrInvalidNotification = errors.New("invalid notification")

// Priority is the urgency class of a notification.
type Priority int

const (
	PriorityUnknown Priority = iota
	PriorityHigh
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

func (p Priority) Valid() bool { return p == PriorityHigh || p == PriorityLow }

// ParsePriority accepts "high"/"low" (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityUnknown, fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, s)
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrInvalidNotification, int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Notification is supplied by the caller and never modified here.
type Notification struct {
	ID       string    `json:"id" yaml:"id"`
	Account  string    `json:"account" yaml:"account"`
	Created  time.Time `json:"created" yaml:"created"`
	Priority Priority  `json:"priority" yaml:"priority"`
}

// Validate rejects notifications that the resolver cannot handle.
// ID is opaque and may be empty.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Account) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidNotification)
	}
	if n.Created.IsZero() {
		return fmt.Errorf("%w: created is required", ErrInvalidNotification)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidNotification, int(n.Priority))
	}
	return nil
}

// Entry pairs a notification with its scheduled delivery time.
// Seq is the 0-based submission order within the owning Store.
type Entry struct {
	Notification Notification `json:"notification"`
	ScheduledAt  time.Time    `json:"scheduled_at"`
	Seq          uint64       `json:"seq"`
}

// Delay is how far the entry was pushed past its creation time.
func (e Entry) Delay() time.Duration { return e.ScheduledAt.Sub(e.Notification.Created) }
