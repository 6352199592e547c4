package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// Durations are Go duration strings ("500ms", "10s", "1m"); a bare integer
// means seconds.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`

	// Optional sections. Notifier defaults to enabled when omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Report   *ReportConfig   `json:"report,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig tunes delivery-time resolution.
//
// Defaults (when omitted/zero):
//   - same_account_spacing: "1m"
//   - low_throttle_days: 1
//   - cross_account_guard: "10s"
//   - timezone: "" (timestamps keep their own location)
type SchedulerConfig struct {
	Timezone           string `json:"timezone,omitempty"`
	SameAccountSpacing string `json:"same_account_spacing,omitempty"`
	LowThrottleDays    int    `json:"low_throttle_days,omitempty"`
	CrossAccountGuard  string `json:"cross_account_guard,omitempty"`
}

// NotifierConfig controls the intake pipeline in front of the scheduler.
//
// Defaults: queue_size 256, rate_per_sec 0 (unlimited), burst = max(1, rate),
// history_size 200.
type NotifierConfig struct {
	Enabled        bool    `json:"enabled"`
	QueueSize      int     `json:"queue_size,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	HistorySize    int     `json:"history_size,omitempty"`
	SubmitTimeout  string  `json:"submit_timeout,omitempty"`
	JournalEnabled bool    `json:"journal_enabled,omitempty"`
}

// StorageConfig controls the scheduling journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./var/notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HTTPConfig controls the intake/inspection API.
//
// Security note: pprof is only mounted when enabled; set a token unless the
// listener is bound to loopback.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	Pprof PprofConfig `json:"pprof"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // bearer token (never logged)
}

// ReportConfig controls the periodic schedule snapshot.
//
// schedule accepts cron ("*/5 * * * *", "@hourly", "@every 1m"), a Go
// duration ("15m") or HH:MM ("01:30").
type ReportConfig struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// Default returns a config that runs with console logging, an enabled
// notifier and the HTTP API on loopback.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		HTTP:    HTTPConfig{Enabled: true, Addr: "127.0.0.1:8080"},
		Notifier: &NotifierConfig{
			Enabled:     true,
			QueueSize:   256,
			HistorySize: 200,
		},
	}
}

// Validate checks values that would otherwise only fail at wiring time.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if _, err := Duration("scheduler.same_account_spacing", c.Scheduler.SameAccountSpacing); err != nil {
		errs = append(errs, err)
	}
	if _, err := Duration("scheduler.cross_account_guard", c.Scheduler.CrossAccountGuard); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.LowThrottleDays < 0 {
		errs = append(errs, errors.New("scheduler.low_throttle_days must be >= 0"))
	}
	for path, raw := range map[string]string{
		"http.read_timeout":  c.HTTP.ReadTimeout,
		"http.write_timeout": c.HTTP.WriteTimeout,
		"http.idle_timeout":  c.HTTP.IdleTimeout,
	} {
		if _, err := Duration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if n := c.Notifier; n != nil {
		if n.QueueSize < 0 {
			errs = append(errs, errors.New("notifier.queue_size must be >= 0"))
		}
		if n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifier.rate_per_sec must be >= 0"))
		}
		if _, err := Duration("notifier.submit_timeout", n.SubmitTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		if _, err := Duration("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if r := c.Report; r != nil && r.Enabled && strings.TrimSpace(r.Schedule) == "" {
		errs = append(errs, errors.New("report.schedule is required when report.enabled=true"))
	}
	return errors.Join(errs...)
}
