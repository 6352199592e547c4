package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"notifyd/internal/metrics"
	"notifyd/internal/notifier"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"

	"github.com/stretchr/testify/require"
)

var d0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func startNotifier(t *testing.T) *notifier.Service {
	t.Helper()
	s := notifier.New(notifier.Config{Enabled: true}, schedule.DefaultPolicy(), logx.Nop(), nil, nil, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func submitBody(id, account string, created time.Time, prio string) string {
	return fmt.Sprintf(`{"id":%q,"account":%q,"created":%q,"priority":%q}`, id, account, created.Format(time.RFC3339), prio)
}

func TestSubmitAndList(t *testing.T) {
	t.Parallel()
	svc := startNotifier(t)
	ids := 0
	h := NewRouter(svc, Options{Metrics: metrics.New(), NewID: func() string {
		ids++
		return fmt.Sprintf("gen-%d", ids)
	}})

	rec := do(t, h, http.MethodPost, "/v1/notifications", submitBody("a1", "A", d0, "high"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[entryView](t, rec)
	require.Equal(t, "a1", first.ID)
	require.True(t, first.ScheduledAt.Equal(d0))
	require.Equal(t, string(schedule.RuleFirst), first.Rule)

	rec = do(t, h, http.MethodPost, "/v1/notifications", submitBody("", "B", d0.Add(3*time.Second), "HIGH"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[entryView](t, rec)
	require.Equal(t, "gen-1", second.ID)
	require.True(t, second.ScheduledAt.Equal(d0.Add(10*time.Second)))
	require.Equal(t, int64(7000), second.DelayMS)
	require.Equal(t, 1, second.Shifts)

	rec = do(t, h, http.MethodGet, "/v1/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[struct {
		Count   int         `json:"count"`
		Entries []entryView `json:"entries"`
	}](t, rec)
	require.Equal(t, 2, all.Count)
	require.Equal(t, "a1", all.Entries[0].ID)
	require.Equal(t, "gen-1", all.Entries[1].ID)

	rec = do(t, h, http.MethodGet, "/v1/schedule?account=B", "")
	byB := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	require.Equal(t, 1, byB.Count)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	h := NewRouter(startNotifier(t), Options{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed json", body: `{"account":`, want: "invalid JSON body"},
		{name: "unknown field", body: `{"account":"A","created":"2024-05-06T09:00:00Z","priority":"high","x":1}`, want: "invalid JSON body"},
		{name: "missing account", body: `{"account":"  ","created":"2024-05-06T09:00:00Z","priority":"high"}`, want: "account: required"},
		{name: "missing created", body: `{"account":"A","priority":"low"}`, want: "created: required"},
		{name: "unknown priority", body: `{"account":"A","created":"2024-05-06T09:00:00Z","priority":"urgent"}`, want: "priority: oneof=high low"},
		{name: "zero created", body: `{"account":"A","created":"0001-01-01T00:00:00Z","priority":"low"}`, want: "invalid notification"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, http.MethodPost, "/v1/notifications", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

type fakeScheduler struct{ err error }

func (f fakeScheduler) SubmitExplain(context.Context, schedule.Notification) (schedule.Entry, schedule.Decision, error) {
	return schedule.Entry{}, schedule.Decision{}, f.err
}
func (fakeScheduler) Ordered() []schedule.Entry         { return nil }
func (fakeScheduler) ByAccount(string) []schedule.Entry { return nil }
func (fakeScheduler) Len() int                          { return 0 }

func TestSubmitErrorStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{notifier.ErrQueueFull, http.StatusTooManyRequests},
		{notifier.ErrRateLimited, http.StatusTooManyRequests},
		{notifier.ErrStopped, http.StatusServiceUnavailable},
		{notifier.ErrDisabled, http.StatusServiceUnavailable},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: nope", schedule.ErrInvalidNotification), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewRouter(fakeScheduler{err: tt.err}, Options{})
		rec := do(t, h, http.MethodPost, "/v1/notifications", submitBody("x", "A", d0, "low"))
		require.Equal(t, tt.want, rec.Code, tt.err.Error())
		require.Equal(t, tt.err.Error(), decode[errorBody](t, rec).Error)
	}
}

type journalStub struct {
	recs []storage.Record
	err  error
	got  int
}

func (j *journalStub) RecentSchedule(_ context.Context, limit int) ([]storage.Record, error) {
	j.got = limit
	return j.recs, j.err
}

func TestJournalEndpoint(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(fakeScheduler{}, Options{}), http.MethodGet, "/v1/journal", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	js := &journalStub{recs: []storage.Record{{ID: "n1", Account: "A", Seq: 7}}}
	h := NewRouter(fakeScheduler{}, Options{Journal: js})

	rec = do(t, h, http.MethodGet, "/v1/journal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 50, js.got)
	body := decode[struct {
		Count   int              `json:"count"`
		Records []storage.Record `json:"records"`
	}](t, rec)
	require.Equal(t, 1, body.Count)
	require.Equal(t, uint64(7), body.Records[0].Seq)

	rec = do(t, h, http.MethodGet, "/v1/journal?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, js.got)

	for _, bad := range []string{"0", "-1", "x", "5000"} {
		rec = do(t, h, http.MethodGet, "/v1/journal?limit="+bad, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	js.err = errors.New("disk gone")
	rec = do(t, h, http.MethodGet, "/v1/journal", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	rec := do(t, NewRouter(fakeScheduler{}, Options{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	sick := NewRouter(fakeScheduler{}, Options{Health: func() error { return errors.New("scheduler: stalled") }})
	rec = do(t, sick, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", decode[map[string]any](t, rec)["status"])
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	rec := do(t, NewRouter(fakeScheduler{}, Options{}), http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	h := NewRouter(fakeScheduler{}, Options{Status: func() any { return map[string]int{"entries": 3} }})
	rec = do(t, h, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 3, decode[map[string]any](t, rec)["entries"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := NewRouter(fakeScheduler{}, Options{Metrics: metrics.New()})
	do(t, h, http.MethodGet, "/healthz", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"} 1`)

	rec = do(t, NewRouter(fakeScheduler{}, Options{}), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPprofToken(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(fakeScheduler{}, Options{}), http.MethodGet, "/debug/pprof/cmdline", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	open := NewRouter(fakeScheduler{}, Options{Pprof: true})
	rec = do(t, open, http.MethodGet, "/debug/pprof/cmdline", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := NewRouter(fakeScheduler{}, Options{Pprof: true, PprofToken: "s3cret"})
	rec = do(t, h, http.MethodGet, "/debug/pprof/cmdline", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/debug/pprof/cmdline", "", "Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/debug/pprof/cmdline", "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/debug/pprof/cmdline?token=s3cret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	svc := startNotifier(t)
	build := func(c Config) http.Handler {
		return NewRouter(svc, Options{Pprof: c.Pprof, PprofToken: c.PprofToken})
	}
	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop(), build)
	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	require.NoError(t, srv.Start(ctx))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Post("http://"+addr+"/v1/notifications", "application/json",
		strings.NewReader(submitBody("n1", "A", d0, "low")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 1, svc.Len())

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Reconfigure(stopCtx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}))
	require.NotEmpty(t, srv.Addr())
	resp, err = http.Get("http://" + srv.Addr() + "/debug/pprof/cmdline")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Reconfigure(stopCtx, Config{Enabled: false}))
	require.Empty(t, srv.Addr())
	require.Nil(t, srv.Supervisor())
	srv.Stop(stopCtx)
}

func TestServerRefusesOpenPprof(t *testing.T) {
	t.Parallel()
	srv := NewServer(Config{Enabled: true, Addr: "0.0.0.0:0", Pprof: true}, logx.Nop(), func(Config) http.Handler {
		return http.NotFoundHandler()
	})
	require.Error(t, srv.Start(context.Background()))
	require.Empty(t, srv.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.1.2.3:8080":  false,
		"example.com:80": false,
	}
	for addr, want := range tests {
		require.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
