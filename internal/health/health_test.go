package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/sphinxlink/internal/health"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, h http.Handler, path string) (int, health.Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var rep health.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("%s: decode: %v", path, err)
	}
	return rec.Code, rep
}

func mux(h *health.Handler) *http.ServeMux {
	m := http.NewServeMux()
	h.Register(m)
	return m
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	h := health.New([]health.Checker{{Name: "recognizer", Check: failWith("down")}})

	code, rep := get(t, mux(h), "/healthz")
	if code != http.StatusOK {
		t.Errorf("code = %d, want 200", code)
	}
	if rep.Status != health.StatusOK || len(rep.Checks) != 0 {
		t.Errorf("report = %+v, want bare ok", rep)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		checkers []health.Checker
		wantCode int
		want     map[string]health.CheckResult
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     map[string]health.CheckResult{},
		},
		{
			name: "all pass",
			checkers: []health.Checker{
				{Name: "recognizer", Check: pass},
				{Name: "gateway", Check: pass},
			},
			wantCode: http.StatusOK,
			want: map[string]health.CheckResult{
				"recognizer": {Status: health.StatusOK},
				"gateway":    {Status: health.StatusOK},
			},
		},
		{
			name: "one fails",
			checkers: []health.Checker{
				{Name: "recognizer", Check: failWith("connection refused")},
				{Name: "gateway", Check: pass},
			},
			wantCode: http.StatusServiceUnavailable,
			want: map[string]health.CheckResult{
				"recognizer": {Status: health.StatusFail, Error: "connection refused"},
				"gateway":    {Status: health.StatusOK},
			},
		},
		{
			name: "all fail",
			checkers: []health.Checker{
				{Name: "recognizer", Check: failWith("timeout")},
				{Name: "gateway", Check: failWith("not accepting")},
			},
			wantCode: http.StatusServiceUnavailable,
			want: map[string]health.CheckResult{
				"recognizer": {Status: health.StatusFail, Error: "timeout"},
				"gateway":    {Status: health.StatusFail, Error: "not accepting"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, rep := get(t, mux(health.New(tt.checkers)), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if rep.OK() != (tt.wantCode == http.StatusOK) {
				t.Errorf("status = %q with code %d", rep.Status, code)
			}
			if len(rep.Checks) != len(tt.want) {
				t.Fatalf("checks = %+v, want %d entries", rep.Checks, len(tt.want))
			}
			for name, want := range tt.want {
				got := rep.Checks[name]
				if got.Status != want.Status || got.Error != want.Error {
					t.Errorf("%s = %+v, want %+v", name, got, want)
				}
				if got.Duration < 0 {
					t.Errorf("%s duration = %v", name, got.Duration)
				}
			}
		})
	}
}

func TestCheck_TimeoutCancelsSlowChecker(t *testing.T) {
	h := health.New([]health.Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, health.WithTimeout(10*time.Millisecond))

	rep := h.Check(context.Background())
	if rep.OK() {
		t.Fatal("slow checker passed")
	}
	if got := rep.Checks["slow"].Error; got != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q, want deadline exceeded", got)
	}
}

func TestCheck_RequestContextCancelled(t *testing.T) {
	h := health.New([]health.Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if rep := h.Check(ctx); rep.OK() {
		t.Error("check passed with a cancelled context")
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	block := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	h := health.New([]health.Checker{{Name: "a", Check: block}, {Name: "b", Check: block}})

	done := make(chan health.Report)
	go func() { done <- h.Check(context.Background()) }()
	for range 2 {
		<-started
	}
	close(release)
	if rep := <-done; !rep.OK() {
		t.Errorf("report = %+v", rep)
	}
}

func TestRecognizerCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := health.RecognizerCheck(ln.Addr().String())
	if c.Name != "recognizer" {
		t.Errorf("Name = %q, want recognizer", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check against a listener = %v", err)
	}

	ln.Close()
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check succeeded against a closed port")
	}
}

type failingDialer struct{ err error }

func (d failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, d.err
}

func TestDialCheck_CustomDialer(t *testing.T) {
	boom := errors.New("boom")
	c := health.DialCheck("gateway", "unix", "/tmp/none.sock", failingDialer{err: boom})
	if err := c.Check(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Check = %v, want boom", err)
	}
}
