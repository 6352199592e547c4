package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	logx "notifyd/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
)

// ConfigManager holds the committed config for one file and hands every
// accepted reload to its subscribers.
type ConfigManager struct {
	path     string
	debounce time.Duration

	mu  sync.RWMutex
	cfg *Config
	fp  uint64

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
	subs     subscribers
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:     path,
		debounce: reloadDebounce,
		log:      logx.Nop(),
		subs:     subscribers{set: make(map[chan *Config]struct{})},
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator adds a check that reloads must pass, after Config.Validate,
// before they are committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse decodes the file without validating or committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load is the startup path: parse, validate, commit. Nothing is published.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	fp := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.fp = cfg, fp
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	return m.subs.add(buffer)
}

// Unsubscribe closes ch. Unknown or nil channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subs.remove(ch)
}

func (m *ConfigManager) publish(cfg *Config) {
	if n := m.subs.send(cfg); n > 0 {
		m.log.Debug("config update dropped for slow subscribers", logx.Int("subscribers", n))
	}
}

// reload re-reads the file and commits and publishes it if its content
// changed and every check passes. It reports whether it published.
func (m *ConfigManager) reload(ctx context.Context) bool {
	log := m.log.With(logx.String("path", m.path))

	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return false
	}
	fp := fingerprint(cfg)
	m.mu.RLock()
	same := fp != 0 && fp == m.fp
	m.mu.RUnlock()
	if same {
		log.Debug("config content unchanged")
		return false
	}

	if err := m.check(ctx, cfg); err != nil {
		log.Warn("config rejected", logx.Err(err))
		return false
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Debug("config published", logx.String("fingerprint", fmt.Sprintf("%016x", fp)))
	return true
}

func (m *ConfigManager) check(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.validate == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return m.validate(vctx, cfg)
}

// subscribers is a set of config channels. send never blocks: when a
// channel is full its oldest pending config is replaced by the new one.
type subscribers struct {
	mu  sync.Mutex
	set map[chan *Config]struct{}
}

func (s *subscribers) add(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	s.mu.Lock()
	s.set[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *subscribers) remove(ch chan *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[ch]; !ok {
		return
	}
	delete(s.set, ch)
	close(ch)
}

// send returns how many subscribers could not take cfg even after
// discarding a stale entry.
func (s *subscribers) send(cfg *Config) (missed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.set {
		if offer(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		if !offer(ch, cfg) {
			missed++
		}
	}
	return missed
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}
