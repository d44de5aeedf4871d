package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"auditdesk.org/internal/ids"
	"auditdesk.org/internal/obs"
)

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	rid := rr.Header().Get("X-Request-ID")
	if !ids.Valid(rid) {
		t.Fatalf("expected a minted ULID, got %q", rid)
	}
	if seen != rid {
		t.Fatalf("context id %q != header id %q", seen, rid)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "edge-42.a_b")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "edge-42.a_b" || seen != got {
		t.Fatalf("incoming id should be reused, got %q / %q", got, seen)
	}

	for _, bad := range []string{"has space", "semi;colon", strings.Repeat("x", 129)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Request-ID"); got == bad || !ids.Valid(got) {
			t.Fatalf("invalid id %q should be replaced, got %q", bad, got)
		}
	}
}

func TestLoggingJSONEmitsStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { obs.SetLogger(prev) })

	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), RealIP(nil), RequestID, LoggingJSON)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "request_complete" || entry["method"] != "POST" || entry["path"] != "/api/auth/login" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["remote_ip"] != "192.0.2.1" {
		t.Fatalf("unexpected status/ip: %v", entry)
	}
	for _, key := range []string{"time", "level", "request_id", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %v", key, entry)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Fatalf("%s: expected %q, got %q", k, v, got)
		}
	}
}

func TestCORS(t *testing.T) {
	h := CORS("http://localhost:3000/")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("allowed origin not echoed: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin must not be allowed")
	}
	if rr.Code != http.StatusOK || rr.Header().Get("Vary") != "Origin" {
		t.Fatalf("unexpected response: %d %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/admin/users/1/toggle-status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "PATCH") ||
		!strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("preflight headers: %v", rr.Header())
	}
}

func TestMaxBodyBytesOnLogin(t *testing.T) {
	env := newTestEnv(t, func(_ *Deps, o *Options) { o.MaxBodyBytes = 64 })
	body := `{"email":"admin@example.com","password":"` + strings.Repeat("a", 200) + `"}`

	res := env.do(http.MethodPost, "/api/auth/login", body, "", nil)
	if res.status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", res.status, res.body)
	}
	if res.json(t)["message"] != "Request body too large" {
		t.Fatalf("unexpected body: %s", res.body)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), stage("outer"), nil, stage("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestStatusWriterKeepsFirstCode(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)
	if sw.code != http.StatusOK {
		t.Fatalf("default should be 200, got %d", sw.code)
	}
	_, _ = sw.Write([]byte("x"))
	sw.WriteHeader(http.StatusInternalServerError)
	if sw.code != http.StatusOK {
		t.Fatalf("write should commit 200, got %d", sw.code)
	}
}

func TestClientIPIgnoresForwardingFromUntrustedPeers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("remote addr: %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.2")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.2")
	if got := resolveClientIP(req, nil); got != "192.0.2.1" {
		t.Fatalf("headers from an untrusted peer must be ignored, got %q", got)
	}
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := resolveClientIP(req, trusted); got != "192.0.2.1" {
		t.Fatalf("peer outside the trusted range, got %q", got)
	}
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		name   string
		remote string
		xff    []string
		realIP string
		want   string
	}{
		{"rightmost untrusted hop", "192.0.2.1:80", []string{"203.0.113.9, 198.51.100.7, 10.1.2.3"}, "", "198.51.100.7"},
		{"split header lines", "10.0.0.5:80", []string{"203.0.113.9", "10.9.9.9"}, "", "203.0.113.9"},
		{"all hops trusted", "10.0.0.5:80", []string{"10.0.0.7, 10.0.0.6"}, "", "10.0.0.7"},
		{"garbage hop", "10.0.0.5:80", []string{"evil, 10.0.0.6"}, "", "10.0.0.6"},
		{"x-real-ip", "10.0.0.5:80", nil, "198.51.100.2", "198.51.100.2"},
		{"bad x-real-ip", "10.0.0.5:80", nil, "not-an-ip", "10.0.0.5"},
		{"mapped v4 peer", "[::ffff:10.0.0.5]:80", []string{"203.0.113.4"}, "", "203.0.113.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}

			var seen string
			RealIP(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = clientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			if seen != tc.want {
				t.Fatalf("got %q, want %q", seen, tc.want)
			}
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/8", "proxy.local"}); err == nil {
		t.Fatal("expected an error for a hostname")
	}
	got, err := ParseTrustedProxies([]string{" ", "10.1.2.3/8", "::1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0].String() != "10.0.0.0/8" || got[1].String() != "::1/128" {
		t.Fatalf("unexpected prefixes: %v", got)
	}
}
