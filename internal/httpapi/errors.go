package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"auditdesk.org/internal/auth"
)

const internalErrorMessage = "Internal server error"

var errBodyRequired = errors.New("request body is required")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {message, requestId}.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["requestId"] = rid
	}
	writeJSON(w, code, payload)
}

// statusForError maps the auth error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// internalError logs err and answers 500 with msg. The error text reaches the
// caller only in development.
func (a *API) internalError(w http.ResponseWriter, r *http.Request, op, msg string, err error) {
	a.log.ErrorContext(r.Context(), op+"_failed",
		"request_id", RequestIDFromContext(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	)
	if msg == "" {
		msg = internalErrorMessage
	}
	payload := map[string]any{
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["requestId"] = rid
	}
	if a.development() {
		payload["error"] = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// queryInt parses a positive integer query value, falling back to def when the
// value is absent, malformed or not positive, and capping at max when max > 0.
func queryInt(raw string, def, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
