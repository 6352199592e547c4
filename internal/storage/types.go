package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one scheduling decision. Keep it compact and schema-stable.
type Record struct {
	At          time.Time `json:"at"`
	ID          string    `json:"id"`
	Account     string    `json:"account"`
	Priority    string    `json:"priority"`
	Created     time.Time `json:"created"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Seq         uint64    `json:"seq"`
	Rule        string    `json:"rule,omitempty"`
	Shifts      int       `json:"shifts,omitempty"`
}
