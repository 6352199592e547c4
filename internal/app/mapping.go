package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/api"
	"notifyd/internal/config"
	"notifyd/internal/notifier"
	"notifyd/internal/report"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapPolicy(cfg *config.Config) (schedule.Policy, error) {
	sc := cfg.Scheduler
	p := schedule.DefaultPolicy()

	var err error
	if p.SameAccountSpacing, err = config.DurationOr("scheduler.same_account_spacing", sc.SameAccountSpacing, schedule.DefaultSameAccountSpacing); err != nil {
		return schedule.Policy{}, err
	}
	if p.CrossAccountGuard, err = config.DurationOr("scheduler.cross_account_guard", sc.CrossAccountGuard, schedule.DefaultCrossAccountGuard); err != nil {
		return schedule.Policy{}, err
	}
	if sc.LowThrottleDays < 0 {
		return schedule.Policy{}, fmt.Errorf("scheduler.low_throttle_days must be >= 0")
	}
	if sc.LowThrottleDays > 0 {
		p.LowThrottleDays = sc.LowThrottleDays
	}
	if p.Location, err = loadLocation(sc.Timezone); err != nil {
		return schedule.Policy{}, err
	}
	return p, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		nc = config.Default().Notifier
	}
	if nc.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	timeout, err := config.DurationOr("notifier.submit_timeout", nc.SubmitTimeout, 5*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		Burst:         nc.Burst,
		HistorySize:   nc.HistorySize,
		SubmitTimeout: timeout,
		Journal:       nc.JournalEnabled,
	}, nil
}

// mapStorageConfig reports enabled=false for a missing section or driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapHTTPConfig(cfg *config.Config) (api.Config, error) {
	hc := cfg.HTTP
	read, err := config.DurationOr("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.DurationOr("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.DurationOr("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:      hc.Enabled,
		Addr:         strings.TrimSpace(hc.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		Pprof:        hc.Pprof.Enabled,
		PprofToken:   strings.TrimSpace(hc.Pprof.Token),
	}, nil
}

func mapReportConfig(cfg *config.Config) (report.Config, error) {
	rc := cfg.Report
	if rc == nil || !rc.Enabled {
		return report.Config{}, nil
	}
	if _, err := report.ParseSchedule(rc.Schedule); err != nil {
		return report.Config{}, fmt.Errorf("report.schedule: %w", err)
	}
	loc, err := loadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return report.Config{}, err
	}
	return report.Config{
		Enabled:      true,
		Schedule:     rc.Schedule,
		SnapshotPath: strings.TrimSpace(rc.SnapshotPath),
		Location:     loc,
	}, nil
}

// validateMapped runs every mapper so a reload is rejected before commit.
func validateMapped(cfg *config.Config) error {
	if _, err := mapPolicy(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReportConfig(cfg); err != nil {
		return err
	}
	return nil
}

// CheckConfig loads the file at path and runs the same checks as startup.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
