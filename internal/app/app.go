// Package app wires config, logging, storage, the notifier, the report job
// and the HTTP API into one process and keeps them in sync with config
// reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"notifyd/internal/api"
	"notifyd/internal/config"
	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	"notifyd/internal/notifier"
	"notifyd/internal/report"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	root    logx.Logger
	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.MemBus
	store   storage.Store
	metrics *metrics.Metrics

	notif  *notifier.Service
	report *report.Job
	http   *api.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()
	m.CountDropped(bus.Dropped)

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	policy, _ := mapPolicy(cfg)
	ncfg, _ := mapNotifierConfig(cfg)
	rcfg, _ := mapReportConfig(cfg)
	hcfg, _ := mapHTTPConfig(cfg)

	a := &App{
		cfgm:    cfgm,
		root:    root,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
	}
	a.notif = notifier.New(ncfg, policy, root, bus, store, m)
	a.report = report.New(rcfg, a.notif, root, bus)
	a.http = api.NewServer(hcfg, root, a.router)
	return a, nil
}

func (a *App) router(c api.Config) http.Handler {
	var journal api.JournalReader
	if a.store != nil {
		journal = a.store
	}
	return api.NewRouter(a.notif, api.Options{
		Log:        a.root,
		Metrics:    a.metrics,
		Journal:    journal,
		Pprof:      c.Pprof,
		PprofToken: c.PprofToken,
		Health:     a.health,
		Status:     a.status,
	})
}

type statusView struct {
	Entries       int                       `json:"entries"`
	EventsDropped uint64                    `json:"events_dropped"`
	Supervisors   map[string]rtsup.Snapshot `json:"supervisors"`
}

// status reports goroutine state for every running supervisor.
func (a *App) status() any {
	v := statusView{
		Entries:       a.notif.Len(),
		EventsDropped: a.bus.Dropped(),
		Supervisors:   map[string]rtsup.Snapshot{},
	}
	for name, sup := range map[string]*rtsup.Supervisor{
		"app":      a.sup,
		"notifier": a.notif.Supervisor(),
		"http":     a.http.Supervisor(),
	} {
		if sup != nil {
			v.Supervisors[name] = sup.Snapshot()
		}
	}
	return v
}

func (a *App) health() error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	if !a.notif.Enabled() {
		return nil
	}
	sup := a.notif.Supervisor()
	if sup == nil {
		return errors.New("notifier not running")
	}
	return sup.Err()
}

func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Report() *report.Job { return a.report }

func (a *App) Bus() eventbus.Bus { return a.bus }

// HTTPAddr is the bound API address, or "" when the API is off.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// reloads are validated before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	a.notif.Start(a.sup.Context())
	if err := a.report.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	a.log.Info("app started", logx.String("config", a.cfgm.Path()), logx.String("http", a.http.Addr()))
	return nil
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(mapLoggingConfig(next))

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "scheduler") {
		a.log.Warn("scheduler policy changed; restart required for changes to take effect")
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(a.sup.Context())
		}
	}

	if slices.Contains(sections, "report") || slices.Contains(sections, "scheduler") {
		if rcfg, err := mapReportConfig(next); err != nil {
			a.log.Warn("invalid report config; keeping previous", logx.Err(err))
		} else if err := a.report.Apply(a.sup.Context(), rcfg); err != nil {
			a.log.Warn("report reconfigure failed", logx.Err(err))
		}
	}

	if slices.Contains(sections, "http") {
		if hcfg, err := mapHTTPConfig(next); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else if err := a.http.Reconfigure(a.sup.Context(), hcfg); err != nil {
			a.log.Warn("http reconfigure failed", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Run each step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Intake first, then the worker drains, then the journal closes.
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
