package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: Asia/Jakarta
  same_account_spacing: 2m
  low_throttle_days: 1
  cross_account_guard: 10s
notifier:
  enabled: true
  queue_size: 64
  rate_per_sec: 5
storage:
  driver: sqlite
  path: ./var/notifyd.db
http:
  enabled: true
  addr: 127.0.0.1:0
report:
  enabled: true
  schedule: "@every 1m"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "notifyd.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.SameAccountSpacing != "2m" || cfg.Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Notifier == nil || cfg.Notifier.QueueSize != 64 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"logging":{"level":"info"},"smtp":{}}`},
		{name: "trailing data", file: "c.json", body: `{"logging":{}} {"logging":{}}`},
		{name: "bad yaml", file: "c.yaml", body: "logging: [unclosed"},
		{name: "two yaml documents", file: "c.yml", body: "logging: {}\n---\nlogging: {}\n"},
		{name: "non-string key", file: "c.yaml", body: "logging:\n  1: debug\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatalf("Decode(%s) expected error", tt.name)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Notifier != nil || cfg.Storage != nil {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{raw: "", def: time.Second, want: time.Second},
		{raw: "0s", def: time.Second, want: time.Second},
		{raw: " 90s ", want: 90 * time.Second},
		{raw: "30", want: 30 * time.Second},
		{raw: "1h2m", want: time.Hour + 2*time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := DurationOr("x.timeout", tt.raw, tt.def)
		if (err != nil) != tt.wantErr {
			t.Fatalf("DurationOr(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err != nil {
			if !strings.Contains(err.Error(), "x.timeout") {
				t.Fatalf("error %q does not name the field", err)
			}
			continue
		}
		if got != tt.want {
			t.Fatalf("DurationOr(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "bad spacing", mutate: func(c *Config) { c.Scheduler.SameAccountSpacing = "soon" }, wantErr: true},
		{name: "negative guard", mutate: func(c *Config) { c.Scheduler.CrossAccountGuard = "-1s" }, wantErr: true},
		{name: "negative days", mutate: func(c *Config) { c.Scheduler.LowThrottleDays = -1 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, wantErr: true},
		{name: "report without schedule", mutate: func(c *Config) { c.Report = &ReportConfig{Enabled: true} }, wantErr: true},
		{name: "bad http timeout", mutate: func(c *Config) { c.HTTP.ReadTimeout = "x" }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "notifyd.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged file should not publish")
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(ctx) {
		t.Fatal("changed file should publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("subscriber got nothing")
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("rejected config should not publish")
	}
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("committed level = %q, want debug", got)
	}
}

func TestPublishKeepsLatestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	b.Logging.Level = "debug"
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	path := writeFile(t, "notifyd.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "error" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and reports the change.
			_ = os.WriteFile(path, []byte(`{"logging":{"level":"error"}}`), 0o600)
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Scheduler.CrossAccountGuard = "30s"
	newCfg.HTTP.Pprof.Token = "secret"
	newCfg.Storage = &StorageConfig{Driver: "file", Path: "./var"}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"scheduler", "storage", "http"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed = %v, missing %s", changed, want)
		}
	}
	if slices.Contains(changed, "notifier") || slices.Contains(changed, "logging") {
		t.Fatalf("unexpected sections in %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	if changed, _ := SummarizeConfigChange(nil, &Config{Notifier: Default().Notifier}); slices.Contains(changed, "notifier") {
		t.Fatal("explicit default notifier should equal omitted section")
	}
}
