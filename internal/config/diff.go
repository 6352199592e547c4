package config

import (
	"reflect"
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are reported only as "*_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.same_account_spacing", strings.TrimSpace(newCfg.Scheduler.SameAccountSpacing)),
			logx.Int("scheduler.low_throttle_days", newCfg.Scheduler.LowThrottleDays),
			logx.String("scheduler.cross_account_guard", strings.TrimSpace(newCfg.Scheduler.CrossAccountGuard)),
		)
	}

	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Float64("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.burst", newN.Burst),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(oldS, newS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.String("storage.path", strings.TrimSpace(newS.Path)),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Enabled != nh.Enabled ||
		strings.TrimSpace(oh.Addr) != strings.TrimSpace(nh.Addr) ||
		oh.ReadTimeout != nh.ReadTimeout ||
		oh.WriteTimeout != nh.WriteTimeout ||
		oh.IdleTimeout != nh.IdleTimeout ||
		oh.Pprof.Enabled != nh.Pprof.Enabled ||
		oh.Pprof.Token != nh.Pprof.Token {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.pprof_enabled", nh.Pprof.Enabled),
			logx.Bool("http.pprof_token_set", strings.TrimSpace(nh.Pprof.Token) != ""),
		)
	}

	oldR, newR := derefReport(oldCfg.Report), derefReport(newCfg.Report)
	if !reflect.DeepEqual(oldR, newR) {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newR.Enabled),
			logx.String("report.schedule", strings.TrimSpace(newR.Schedule)),
		)
	}

	return changed, attrs
}

// Omitted notifier section means "enabled with defaults".
func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return *Default().Notifier
	}
	return *n
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{Driver: "none"}
	}
	return *s
}

func derefReport(r *ReportConfig) ReportConfig {
	if r == nil {
		return ReportConfig{}
	}
	return *r
}
