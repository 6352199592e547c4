// Package storage journals scheduling decisions.
//
// The journal is write-only from the scheduler's point of view: nothing is
// replayed into the in-memory schedule on start. RecentSchedule exists for
// inspection tooling.
package storage
