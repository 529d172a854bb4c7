package pprof

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "cadence/pkg/logx"
)

type fakeSource struct{ runsErr error }

func (fakeSource) Snapshot() any { return map[string]string{"state": "running"} }

func (f fakeSource) RecentRuns(_ context.Context, job string, limit int) (any, error) {
	if f.runsErr != nil {
		return nil, f.runsErr
	}
	return []map[string]any{{"job": job, "limit": limit}}, nil
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()
	s := New(Config{}, fakeSource{}, logx.Nop())
	h := s.handler("")

	tests := []struct {
		target string
		code   int
		body   string
	}{
		{target: "/healthz", code: http.StatusOK, body: "ok"},
		{target: "/debug/snapshot", code: http.StatusOK, body: `"state": "running"`},
		{target: "/debug/runs?job=tick&limit=5", code: http.StatusOK, body: `"limit": 5`},
		{target: "/debug/runs?job=tick&limit=50000", code: http.StatusOK, body: `"limit": 1000`},
		{target: "/debug/runs", code: http.StatusBadRequest, body: "job required"},
		{target: "/debug/runs?job=x&limit=-1", code: http.StatusBadRequest, body: "invalid limit"},
		{target: "/debug/pprof/goroutine?debug=1", code: http.StatusOK, body: "goroutine profile"},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.target, nil)
		if code != tt.code || !strings.Contains(body, tt.body) {
			t.Fatalf("GET %s = %d %q, want %d containing %q", tt.target, code, body, tt.code, tt.body)
		}
	}
}

func TestRunsErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	s := New(Config{}, fakeSource{runsErr: errors.New("storage disabled")}, logx.Nop())
	code, body := get(t, s.handler(""), "/debug/runs?job=x", nil)
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "storage disabled") {
		t.Fatalf("got %d %q", code, body)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{}, fakeSource{}, logx.Nop()).handler("s3cret")

	if code, _ := get(t, h, "/debug/snapshot", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d, want 401", code)
	}
	if code, _ := get(t, h, "/debug/snapshot?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token: code = %d, want 200", code)
	}
	if code, _ := get(t, h, "/debug/snapshot", map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("bearer token: code = %d, want 200", code)
	}
	if code, _ := get(t, h, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz: code = %d, want 200", code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, fakeSource{}, logx.Nop())
	s.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("Addr() = %q after Stop, want empty", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
