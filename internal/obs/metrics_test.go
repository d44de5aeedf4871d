package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/":                                  "/",
		"/metrics":                           "/metrics",
		"/api/admin/users":                   "/api/admin/users",
		"/api/admin/users/42/toggle-status":  "/api/admin/users/:id/toggle-status",
		"/api/admin/users/abc/toggle-status": "/api/admin/users/abc/toggle-status",
		"/api/admin/logs?page=2&limit=10":    "/api/admin/logs",
		"/api/admin/users/7/toggle-status/":  "/api/admin/users/:id/toggle-status/",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentPassesThrough(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/users/3/toggle-status", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestNewLoggerProductionEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("production", &buf)
	l.Info("hello", "request_id", "r-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["request_id"] != "r-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerDevelopmentEmitsText(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("development", &buf)
	l.Debug("debug line")
	if !strings.Contains(buf.String(), "msg=\"debug line\"") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}

func TestSetLoggerReturnsPrevious(t *testing.T) {
	var buf bytes.Buffer
	next := NewLogger("production", &buf)
	prev := SetLogger(next)
	defer SetLogger(prev)

	if Logger() != next {
		t.Fatal("expected replaced logger")
	}
}

func TestResolveCommit(t *testing.T) {
	stamped := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs", Value: "git"},
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		}}, true
	}
	bare := func() (*debug.BuildInfo, bool) { return nil, false }

	cases := []struct {
		commit string
		read   func() (*debug.BuildInfo, bool)
		want   string
	}{
		{"a1b2c3", stamped, "a1b2c3"},
		{"dev", stamped, "0123456789ab"},
		{"", stamped, "0123456789ab"},
		{"dev", bare, "dev"},
		{"", bare, "unknown"},
	}
	for _, tc := range cases {
		if got := resolveCommit(tc.commit, tc.read); got != tc.want {
			t.Fatalf("resolveCommit(%q)=%q, want %q", tc.commit, got, tc.want)
		}
	}
}
