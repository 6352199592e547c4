// Package report periodically summarizes the schedule: it logs per-account
// counts and the next due entry, optionally writes a JSON snapshot file and
// publishes "report.snapshot" on the event bus.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/schedule"
	logx "notifyd/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Source is the read side of the scheduler.
type Source interface {
	Ordered() []schedule.Entry
}

type Config struct {
	Enabled      bool
	Schedule     string
	SnapshotPath string
	Location     *time.Location // nil means time.Local
}

type AccountSummary struct {
	Account string     `json:"account"`
	Count   int        `json:"count"`
	High    int        `json:"high"`
	Low     int        `json:"low"`
	NextDue *time.Time `json:"next_due,omitempty"`
	Last    time.Time  `json:"last"`
}

type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Total       int              `json:"total"`
	Pending     int              `json:"pending"`
	NextDue     *schedule.Entry  `json:"next_due,omitempty"`
	Accounts    []AccountSummary `json:"accounts"`
	Entries     []schedule.Entry `json:"entries"`
}

// Build summarizes entries (already ordered by ScheduledAt) as of now.
// Accounts are listed in the order of their earliest entry.
func Build(entries []schedule.Entry, now time.Time) Snapshot {
	snap := Snapshot{
		GeneratedAt: now,
		Total:       len(entries),
		Accounts:    []AccountSummary{},
		Entries:     entries,
	}
	if snap.Entries == nil {
		snap.Entries = []schedule.Entry{}
	}
	idx := map[string]int{}
	for i := range entries {
		e := entries[i]
		k, ok := idx[e.Notification.Account]
		if !ok {
			k = len(snap.Accounts)
			idx[e.Notification.Account] = k
			snap.Accounts = append(snap.Accounts, AccountSummary{Account: e.Notification.Account})
		}
		a := &snap.Accounts[k]
		a.Count++
		switch e.Notification.Priority {
		case schedule.PriorityHigh:
			a.High++
		case schedule.PriorityLow:
			a.Low++
		}
		a.Last = e.ScheduledAt

		if e.ScheduledAt.Before(now) {
			continue
		}
		snap.Pending++
		if snap.NextDue == nil {
			snap.NextDue = &entries[i]
		}
		if a.NextDue == nil {
			at := e.ScheduledAt
			a.NextDue = &at
		}
	}
	return snap
}

// Job runs the report on a cron schedule.
type Job struct {
	mu  sync.Mutex
	cfg Config
	src Source
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	c *cron.Cron
}

func New(cfg Config, src Source, log logx.Logger, bus eventbus.Bus) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{
		cfg: cfg,
		src: src,
		log: log.With(logx.String("comp", "report")),
		bus: bus,
		now: time.Now,
	}
}

// Start registers the report with a fresh cron runner. It does nothing
// when the job is disabled.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil || !j.cfg.Enabled {
		return nil
	}
	ps, err := ParseSchedule(j.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	loc := j.cfg.Location
	if loc == nil {
		loc = time.Local
	}

	cl := cronLogger{log: j.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(ps.CronSpec(), func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Warn("report failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("report.schedule %q: %w", j.cfg.Schedule, err)
	}
	c.Start()
	j.c = c

	next := ""
	if es := c.Entries(); len(es) > 0 {
		next = es[0].Next.Format(time.RFC3339)
	}
	j.log.Info("report scheduled",
		logx.String("spec", ps.CronSpec()),
		logx.String("tz", loc.String()),
		logx.String("next", next),
	)
	return nil
}

// Stop waits for a running report to finish, bounded by ctx.
func (j *Job) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config and (re)starts the cron runner if enabled.
func (j *Job) Apply(ctx context.Context, cfg Config) error {
	j.mu.Lock()
	running := j.c != nil
	j.mu.Unlock()

	if running {
		j.Stop(ctx)
	}
	j.mu.Lock()
	j.cfg = cfg
	j.mu.Unlock()
	return j.Start(ctx)
}

// RunOnce builds a snapshot now, logs it, writes the snapshot file when
// configured and publishes it.
func (j *Job) RunOnce(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	j.mu.Lock()
	path := strings.TrimSpace(j.cfg.SnapshotPath)
	j.mu.Unlock()

	snap := Build(j.src.Ordered(), j.now())

	fields := []logx.Field{
		logx.Int("total", snap.Total),
		logx.Int("pending", snap.Pending),
		logx.Int("accounts", len(snap.Accounts)),
	}
	if snap.NextDue != nil {
		fields = append(fields,
			logx.String("next_account", snap.NextDue.Notification.Account),
			logx.Time("next_at", snap.NextDue.ScheduledAt),
		)
	}
	j.log.Info("schedule report", fields...)

	if path != "" {
		if err := writeJSONAtomic(path, snap); err != nil {
			return snap, fmt.Errorf("write snapshot: %w", err)
		}
	}
	if j.bus != nil {
		j.bus.Publish(eventbus.Event{Type: eventbus.TypeSnapshot, Time: snap.GeneratedAt, Data: snap})
	}
	return snap, nil
}

// writeJSONAtomic writes v to a temp file next to path and renames it.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	if err == nil {
		err = errors.New("unknown")
	}
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
