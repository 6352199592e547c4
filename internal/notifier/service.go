package notifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled    = errors.New("notifier disabled")
	ErrQueueFull   = errors.New("notifier queue full")
	ErrStopped     = errors.New("notifier stopped")
	ErrRateLimited = errors.New("notifier rate limited")
)

const (
	defaultQueueSize   = 256
	defaultHistorySize = 200
	journalBuffer      = 1024
	journalTimeout     = time.Second
)

type result struct {
	entry schedule.Entry
	dec   schedule.Decision
	err   error
}

type job struct {
	n schedule.Notification
	// reply is buffered (cap 1) so the worker never blocks on an abandoned
	// Submit. Nil for Enqueue.
	reply chan result
}

func (j job) done(r result) {
	if j.reply != nil {
		j.reply <- r
	}
}

// Service owns a schedule.Dispatcher and feeds it from a bounded queue.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue     chan job
	persistCh chan storage.Record
	drained   chan struct{} // closed by the worker once queue is closed and empty
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	// smu guards disp. The worker goroutine is the only writer.
	smu  sync.RWMutex
	disp *schedule.Dispatcher

	hmu     sync.Mutex
	history []ScheduledEvent
}

// New builds a stopped service. bus, store and m may be nil.
func New(cfg Config, policy schedule.Policy, log logx.Logger, bus eventbus.Bus, store storage.Store, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
		metrics: m,
		disp:    schedule.NewDispatcher(policy),
	}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates rate limits, history size and the enabled flag in place.
// QueueSize and Journal take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.RatePerSec < 0 {
		cfg.RatePerSec = 0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(math.Ceil(cfg.RatePerSec)))
	}
	s.cfg = cfg

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(limit, cfg.Burst)
	} else {
		s.limiter.SetLimit(limit)
		s.limiter.SetBurst(cfg.Burst)
	}

	s.hmu.Lock()
	if len(s.history) > cfg.HistorySize {
		s.history = append([]ScheduledEvent(nil), s.history[len(s.history)-cfg.HistorySize:]...)
	}
	s.hmu.Unlock()
}

// Start launches the scheduler worker (and the journal loop when enabled).
// It is idempotent and does nothing while the service is disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.drained = make(chan struct{})
	s.accepting = true
	if s.cfg.Journal && s.store != nil {
		s.persistCh = make(chan storage.Record, journalBuffer)
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup, q, pch, st, drained := s.sup, s.queue, s.persistCh, s.store, s.drained
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("journal", func(c context.Context) error {
			return s.persistLoop(c, pch, st)
		})
	}

	var once sync.Once
	sup.Go("scheduler", func(c context.Context) error {
		if s.workerLoop(c, q) {
			once.Do(func() { close(drained) })
		}
		return nil
	})
	s.log.Info("notifier started",
		logx.Int("queue_size", cap(q)),
		logx.Bool("journal", pch != nil),
	)
}

// Stop refuses new intake, lets the worker drain the queue and then stops
// the journal loop. If ctx ends first the loops are cancelled; any
// notification still queued is answered with ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, sup, drained := s.queue, s.sup, s.drained
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight intake calls may still send on q.
		s.sendWG.Wait()
		close(q)

		select {
		case <-drained:
		case <-sup.Context().Done():
		}

		s.mu.Lock()
		if s.persistCh != nil {
			close(s.persistCh)
			s.persistCh = nil
		}
		s.mu.Unlock()

		_ = sup.Wait(context.Background())
		sup.Cancel()

		for j := range q {
			j.done(result{err: ErrStopped})
		}

		s.mu.Lock()
		s.queue = nil
		s.drained = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		s.metrics.SetQueueDepth(0)
		s.log.Info("notifier stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("notifier stop deadline exceeded; cancelling worker", logx.Err(ctx.Err()))
	}
}

// Submit queues n and waits for its scheduled entry.
//
// If ctx ends after n was queued, Submit returns ctx.Err() but n may still
// be scheduled.
func (s *Service) Submit(ctx context.Context, n schedule.Notification) (schedule.Entry, error) {
	e, _, err := s.SubmitExplain(ctx, n)
	return e, err
}

// SubmitExplain is Submit returning the resolver's decision as well.
func (s *Service) SubmitExplain(ctx context.Context, n schedule.Notification) (schedule.Entry, schedule.Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	timeout := s.cfg.SubmitTimeout
	s.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply := make(chan result, 1)
	if err := s.intake(ctx, job{n: n, reply: reply}); err != nil {
		return schedule.Entry{}, schedule.Decision{}, err
	}
	select {
	case r := <-reply:
		return r.entry, r.dec, r.err
	case <-ctx.Done():
		return schedule.Entry{}, schedule.Decision{}, ctx.Err()
	}
}

// Enqueue queues n without waiting for the decision.
func (s *Service) Enqueue(ctx context.Context, n schedule.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.intake(ctx, job{n: n})
}

func (s *Service) intake(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.n.Validate(); err != nil {
		s.reject(j.n, "invalid", err)
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.reject(j.n, "disabled", ErrDisabled)
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		s.reject(j.n, "stopped", ErrStopped)
		return ErrStopped
	}
	q, lim := s.queue, s.limiter
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if !lim.Allow() {
		s.reject(j.n, "rate_limited", ErrRateLimited)
		return ErrRateLimited
	}

	select {
	case q <- j:
		depth := len(q)
		s.metrics.SetQueueDepth(depth)
		s.publish(eventbus.TypeQueued, QueuedEvent{ID: j.n.ID, Account: j.n.Account, Depth: depth})
		return nil
	default:
		s.reject(j.n, "queue_full", ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) reject(n schedule.Notification, reason string, err error) {
	s.metrics.ObserveRejected(reason)
	s.publish(eventbus.TypeRejected, RejectedEvent{ID: n.ID, Account: n.Account, Reason: reason, Error: err.Error()})
	s.log.Debug("notification rejected",
		logx.String("id", n.ID),
		logx.String("account", n.Account),
		logx.String("reason", reason),
		logx.Err(err),
	)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// workerLoop reports true when it returned because q was closed and empty.
func (s *Service) workerLoop(ctx context.Context, q <-chan job) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case j, ok := <-q:
			if !ok {
				return true
			}
			s.process(j)
			s.metrics.SetQueueDepth(len(q))
		}
	}
}

// process runs one resolve-then-append step and fans out its side effects.
func (s *Service) process(j job) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("scheduling panicked", logx.String("account", j.n.Account), logx.Any("panic", p))
			j.done(result{err: fmt.Errorf("schedule %q: panic: %v", j.n.Account, p)})
		}
	}()

	var (
		r    result
		size int
	)
	func() {
		s.smu.Lock()
		defer s.smu.Unlock()
		r.entry, r.dec, r.err = s.disp.SubmitExplain(j.n)
		size = s.disp.Len()
	}()
	if r.err != nil {
		s.reject(j.n, "invalid", r.err)
		j.done(r)
		return
	}

	ev := newScheduledEvent(r.entry, r.dec)
	s.metrics.ObserveScheduled(ev.Priority, ev.Rule, ev.Delay, ev.Shifts, size)
	s.appendHistory(ev)
	s.publish(eventbus.TypeScheduled, ev)
	s.persist(ev)
	s.log.Debug("notification scheduled",
		logx.String("id", ev.ID),
		logx.String("account", ev.Account),
		logx.String("priority", ev.Priority),
		logx.Time("scheduled_at", ev.ScheduledAt),
		logx.String("rule", ev.Rule),
		logx.Int("shifts", ev.Shifts),
		logx.Duration("delay", ev.Delay),
	)
	j.done(r)
}

func (s *Service) persist(ev ScheduledEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistCh == nil {
		return
	}
	rec := storage.Record{
		At:          time.Now(),
		ID:          ev.ID,
		Account:     ev.Account,
		Priority:    ev.Priority,
		Created:     ev.Created,
		ScheduledAt: ev.ScheduledAt,
		Seq:         ev.Seq,
		Rule:        ev.Rule,
		Shifts:      ev.Shifts,
	}
	select {
	case s.persistCh <- rec:
	default:
		s.log.Warn("journal buffer full; record dropped", logx.Uint64("seq", ev.Seq))
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan storage.Record, st storage.Store) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			cctx, cancel := context.WithTimeout(ctx, journalTimeout)
			err := st.AppendSchedule(cctx, rec)
			cancel()
			if err != nil {
				s.log.Warn("journal append failed", logx.Uint64("seq", rec.Seq), logx.Err(err))
			}
		}
	}
}

func (s *Service) appendHistory(ev ScheduledEvent) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, ev)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

// History returns the most recent decisions, oldest first.
func (s *Service) History() []ScheduledEvent {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]ScheduledEvent(nil), s.history...)
}

// Ordered returns every scheduled entry, earliest first.
func (s *Service) Ordered() []schedule.Entry {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.disp.Ordered()
}

func (s *Service) ByAccount(account string) []schedule.Entry {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.disp.ByAccount(account)
}

func (s *Service) Accounts() []string {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.disp.Accounts()
}

func (s *Service) Len() int {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.disp.Len()
}

func (s *Service) Policy() schedule.Policy { return s.disp.Policy() }
