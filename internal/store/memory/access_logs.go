package memory

import (
	"context"
	"maps"
	"strings"
	"sync"

	"auditdesk.org/internal/audit"
)

var _ audit.Store = (*AccessLogs)(nil)

// AccessLogs is an append-only audit.Store kept in insertion order.
type AccessLogs struct {
	mu      sync.RWMutex
	records []audit.Record
	users   *Users
}

// NewAccessLogs returns an empty log. users, when non-nil, resolves current emails on List.
func NewAccessLogs(users *Users) *AccessLogs {
	return &AccessLogs{users: users}
}

func (s *AccessLogs) Append(_ context.Context, r *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.records) + 1)
	cp := *r
	cp.Metadata = maps.Clone(r.Metadata)
	s.records = append(s.records, cp)
	return nil
}

func (s *AccessLogs) List(_ context.Context, offset, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	if offset < 0 || limit <= 0 || offset >= n {
		return []audit.Record{}, nil
	}
	out := make([]audit.Record, 0, min(limit, n-offset))
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		r.Metadata = maps.Clone(r.Metadata)
		if r.UserID != nil && s.users != nil {
			if email, ok := s.users.emailOf(*r.UserID); ok {
				r.Email = &email
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *AccessLogs) Count(_ context.Context, q audit.CountQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records {
		if q.ActionEquals != "" && r.Action != q.ActionEquals {
			continue
		}
		if q.ActionContains != "" && !strings.Contains(r.Action, q.ActionContains) {
			continue
		}
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			continue
		}
		n++
	}
	return n, nil
}

// All returns a copy of every record in insertion order.
func (s *AccessLogs) All() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Record, len(s.records))
	copy(out, s.records)
	return out
}
