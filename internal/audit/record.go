package audit

import (
	"context"
	"errors"
	"time"
)

// Actions written by the login flow. Request records use "<METHOD> <PATH>".
const (
	ActionLoginAttempt = "LOGIN_ATTEMPT"
	ActionLoginSuccess = "LOGIN_SUCCESS"
	ActionLogout       = "LOGOUT"
)

// ErrInvalidPage is returned for a page below 1 or a non-positive page size.
var ErrInvalidPage = errors.New("audit: page must be >= 1 and page size > 0")

// Record is one append-only audit entry. UserID is a snapshot, not a foreign key.
type Record struct {
	ID        int64          `json:"id"`
	UserID    *int64         `json:"userId"`
	Email     *string        `json:"email"`
	Action    string         `json:"action"`
	Resource  *string        `json:"resource"`
	IPAddress *string        `json:"ipAddress"`
	UserAgent *string        `json:"userAgent"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Entry is the caller-supplied part of a Record. Empty strings are stored as null.
type Entry struct {
	UserID    int64
	Email     string
	Action    string
	Resource  string
	IPAddress string
	UserAgent string
	Success   bool
	Metadata  map[string]any
}

// CountQuery narrows Store.Count. The zero value counts every record.
type CountQuery struct {
	ActionContains string
	ActionEquals   string
	Since          time.Time
}

// Store persists audit records.
type Store interface {
	// Append assigns r.ID and persists r.
	Append(ctx context.Context, r *Record) error
	// List returns records newest first. When the referenced user still exists
	// its current email replaces the captured one.
	List(ctx context.Context, offset, limit int) ([]Record, error)
	Count(ctx context.Context, q CountQuery) (int64, error)
}

func (e Entry) record(now time.Time) *Record {
	r := &Record{
		Action:    e.Action,
		Success:   e.Success,
		Timestamp: now,
		Email:     optional(e.Email),
		Resource:  optional(e.Resource),
		IPAddress: optional(e.IPAddress),
		UserAgent: optional(e.UserAgent),
		Metadata:  e.Metadata,
	}
	if e.UserID > 0 {
		id := e.UserID
		r.UserID = &id
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
