// Package api is the HTTP surface of notifyd: notification intake, schedule
// inspection, health, metrics and (optionally) pprof.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"notifyd/internal/metrics"
	"notifyd/internal/notifier"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 64 << 10

// Scheduler is the part of notifier.Service the API needs.
type Scheduler interface {
	SubmitExplain(ctx context.Context, n schedule.Notification) (schedule.Entry, schedule.Decision, error)
	Ordered() []schedule.Entry
	ByAccount(account string) []schedule.Entry
	Len() int
}

// JournalReader exposes recent journal records.
type JournalReader interface {
	RecentSchedule(ctx context.Context, limit int) ([]storage.Record, error)
}

type Options struct {
	Log     logx.Logger
	Metrics *metrics.Metrics
	Journal JournalReader // nil: /v1/journal answers 404

	// Pprof mounts /debug/pprof/*. When PprofToken is set it must be sent as
	// "Authorization: Bearer <token>" or "?token="; when empty the routes are
	// open, which Server only allows on a loopback address.
	Pprof      bool
	PprofToken string

	// Health reports readiness; nil means always healthy.
	Health func() error
	// Status feeds /v1/status; nil answers 404.
	Status func() any
	// NewID assigns IDs to notifications submitted without one.
	NewID func() string
}

type handler struct {
	sched    Scheduler
	opts     Options
	log      logx.Logger
	validate *validator.Validate
}

// NewRouter builds the chi router for the API.
func NewRouter(sched Scheduler, opts Options) http.Handler {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	h := &handler{
		sched:    sched,
		opts:     opts,
		log:      opts.Log.With(logx.String("comp", "api")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(opts.Metrics.Middleware)
	r.Use(h.accessLog)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/notifications", h.submit)
		r.Get("/schedule", h.listSchedule)
		r.Get("/journal", h.journal)
		r.Get("/status", h.status)
	})

	if opts.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Use(bearerAuth(opts.PprofToken))
			r.HandleFunc("/", hpprof.Index)
			r.HandleFunc("/cmdline", hpprof.Cmdline)
			r.HandleFunc("/profile", hpprof.Profile)
			r.HandleFunc("/symbol", hpprof.Symbol)
			r.HandleFunc("/trace", hpprof.Trace)
			r.HandleFunc("/{profile}", hpprof.Index)
		})
	}
	return r
}

type submitRequest struct {
	ID       string     `json:"id" validate:"omitempty,max=128"`
	Account  string     `json:"account" validate:"required,max=256"`
	Created  *time.Time `json:"created" validate:"required"`
	Priority string     `json:"priority" validate:"required,oneof=high low"`
}

type entryView struct {
	ID          string    `json:"id,omitempty"`
	Account     string    `json:"account"`
	Priority    string    `json:"priority"`
	Created     time.Time `json:"created"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Seq         uint64    `json:"seq"`
	DelayMS     int64     `json:"delay_ms"`
	Rule        string    `json:"rule,omitempty"`
	Shifts      int       `json:"shifts,omitempty"`
}

func viewOf(e schedule.Entry) entryView {
	return entryView{
		ID:          e.Notification.ID,
		Account:     e.Notification.Account,
		Priority:    e.Notification.Priority.String(),
		Created:     e.Notification.Created,
		ScheduledAt: e.ScheduledAt,
		Seq:         e.Seq,
		DelayMS:     e.Delay().Milliseconds(),
	}
}

type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Details: []string{err.Error()}})
		return
	}
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	req.Account = strings.TrimSpace(req.Account)
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Details: validationDetails(err)})
		return
	}

	prio, err := schedule.ParsePriority(req.Priority)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	n := schedule.Notification{
		ID:       strings.TrimSpace(req.ID),
		Account:  req.Account,
		Created:  *req.Created,
		Priority: prio,
	}
	if n.ID == "" {
		n.ID = h.opts.NewID()
	}

	e, dec2, err := h.sched.SubmitExplain(r.Context(), n)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Warn("submit failed", logx.String("id", n.ID), logx.String("account", n.Account), logx.Err(err))
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	v := viewOf(e)
	v.Rule, v.Shifts = string(dec2.Rule), dec2.Shifts
	w.Header().Set("Location", "/v1/schedule?account="+n.Account)
	writeJSON(w, http.StatusCreated, v)
}

func (h *handler) listSchedule(w http.ResponseWriter, r *http.Request) {
	var entries []schedule.Entry
	if acct := strings.TrimSpace(r.URL.Query().Get("account")); acct != "" {
		entries = h.sched.ByAccount(acct)
	} else {
		entries = h.sched.Ordered()
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "entries": out})
}

func (h *handler) journal(w http.ResponseWriter, r *http.Request) {
	if h.opts.Journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "journal disabled"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	recs, err := h.opts.Journal.RecentSchedule(r.Context(), limit)
	if err != nil {
		h.log.Warn("journal read failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "journal read failed"})
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(recs), "records": recs})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "entries": h.sched.Len()}
	if h.opts.Health != nil {
		if err := h.opts.Health(); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Status == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Status())
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrInvalidNotification):
		return http.StatusBadRequest
	case errors.Is(err, notifier.ErrQueueFull), errors.Is(err, notifier.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, notifier.ErrStopped), errors.Is(err, notifier.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := strings.ToLower(fe.Field()) + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, msg)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				const p = "Bearer "
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
					got = strings.TrimSpace(strings.TrimPrefix(ah, p))
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
