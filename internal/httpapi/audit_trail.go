package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"auditdesk.org/internal/audit"
	"auditdesk.org/internal/auth"
)

const (
	maxAuditBody = 64 << 10
	redacted     = "[REDACTED]"
)

// Health probes and metrics scrapes are not audited.
var auditExemptPaths = map[string]struct{}{
	"/health":  {},
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

func auditExempt(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	_, ok := auditExemptPaths[r.URL.Path]
	return ok
}

func readOnlyMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// AuditTrail records exactly one audit entry per request once the inner
// chain has written its response. It sits outside the auth gates so rejected
// and anonymous requests are recorded too. The write is detached from the
// response path.
func (a *API) AuditTrail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auditExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		var (
			body      []byte
			truncated bool
		)
		if !readOnlyMethod(r.Method) && r.Body != nil && r.Body != http.NoBody {
			body, truncated = captureBody(r)
		}

		sw := newStatusWriter(w)
		defer func() {
			rec := recover()
			if rec == nil {
				a.recorder.RecordAsync(r.Context(), a.requestEntry(r, sw.code, body, truncated))
				return
			}
			// паника тоже попадает в журнал как неуспешный запрос
			a.recorder.RecordAsync(r.Context(), a.requestEntry(r, http.StatusInternalServerError, body, truncated))
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := fmt.Errorf("panic: %v", rec)
			if sw.wroteHeader {
				a.log.ErrorContext(r.Context(), "handler_panic", "path", r.URL.Path, "error", err.Error())
				return
			}
			a.internalError(sw, r, "handler", "", err)
		}()
		next.ServeHTTP(sw, r)
	})
}

func (a *API) requestEntry(r *http.Request, status int, body []byte, truncated bool) audit.Entry {
	e := audit.Entry{
		Action:    r.Method + " " + r.URL.Path,
		Resource:  r.URL.Path,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Success:   status < http.StatusBadRequest,
		Metadata:  map[string]any{"statusCode": status},
	}

	// Best effort: an undecodable token still yields a record, without identity.
	if token, ok := auth.ExtractBearer(r.Header.Get(authHeader)); ok {
		if claims, err := a.codec.Decode(token); err == nil {
			e.UserID = claims.UserID
			e.Email = claims.Email
		}
	}

	if !readOnlyMethod(r.Method) {
		if v := bodyMetadata(body, truncated, r.Header.Get("Content-Type")); v != nil {
			e.Metadata["requestBody"] = v
		}
	}
	if q := r.URL.Query(); len(q) > 0 {
		e.Metadata["queryParams"] = flattenValues(q, false)
	}
	return e
}

type replayBody struct {
	io.Reader
	io.Closer
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// captureBody reads up to maxAuditBody bytes ahead of the handler and puts
// them back in front of the remaining stream.
func captureBody(r *http.Request) ([]byte, bool) {
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBody+1))
	var rest io.Reader = r.Body
	if err != nil {
		rest = errReader{err: err}
	}
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(buf), rest), Closer: r.Body}
	if len(buf) > maxAuditBody {
		return nil, true
	}
	return buf, false
}

func bodyMetadata(raw []byte, truncated bool, contentType string) any {
	if truncated {
		return "[TRUNCATED]"
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(raw)); err == nil {
			return flattenValues(form, true)
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return redact(v)
	}
	return string(raw)
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if sensitiveKey(k) {
				t[k] = redacted
				continue
			}
			t[k] = redact(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redact(t[i])
		}
		return t
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "password") || strings.Contains(k, "secret")
}

// flattenValues turns single-valued keys into strings and keeps the rest as lists.
func flattenValues(values url.Values, redactSensitive bool) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		switch {
		case redactSensitive && sensitiveKey(k):
			out[k] = redacted
		case len(vs) == 1:
			out[k] = vs[0]
		default:
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}
