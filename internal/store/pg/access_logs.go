package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"auditdesk.org/internal/audit"
)

var _ audit.Store = (*AccessLogs)(nil)

// AccessLogs implements audit.Store over the access_logs table.
type AccessLogs struct {
	db *sql.DB
}

func (s *AccessLogs) Append(ctx context.Context, r *audit.Record) error {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var userID any
	if r.UserID != nil {
		userID = *r.UserID
	}
	err = s.db.QueryRowContext(ctx, `
		insert into access_logs (user_id, email, action, resource, ip_address, user_agent, success, created_at, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, userID, nullable(r.Email), r.Action, nullable(r.Resource), nullable(r.IPAddress), nullable(r.UserAgent),
		r.Success, r.Timestamp, string(rawMeta)).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *AccessLogs) List(ctx context.Context, offset, limit int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select l.id, l.user_id, coalesce(u.email, l.email), l.action, l.resource,
		       l.ip_address, l.user_agent, l.success, l.created_at, l.metadata
		from access_logs l
		left join users u on u.id = l.user_id
		order by l.created_at desc, l.id desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	records := []audit.Record{}
	for rows.Next() {
		var (
			r                                     audit.Record
			userID                                sql.NullInt64
			email, resource, ipAddress, userAgent sql.NullString
			rawMeta                               []byte
		)
		if err := rows.Scan(&r.ID, &userID, &email, &r.Action, &resource, &ipAddress, &userAgent,
			&r.Success, &r.Timestamp, &rawMeta); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if userID.Valid {
			id := userID.Int64
			r.UserID = &id
		}
		r.Email = fromNull(email)
		r.Resource = fromNull(resource)
		r.IPAddress = fromNull(ipAddress)
		r.UserAgent = fromNull(userAgent)
		r.Metadata = map[string]any{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return records, nil
}

func (s *AccessLogs) Count(ctx context.Context, q audit.CountQuery) (int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if q.ActionEquals != "" {
		add("action = ?", q.ActionEquals)
	}
	if q.ActionContains != "" {
		add("strpos(action, ?) > 0", q.ActionContains)
	}
	if !q.Since.IsZero() {
		add("created_at >= ?", q.Since)
	}

	query := `select count(*) from access_logs`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
