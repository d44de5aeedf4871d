package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"auditdesk.org/internal/audit"
	"auditdesk.org/internal/auth"
)

const (
	recentActivitySize = 10
	statsWindow        = 24 * time.Hour
	defaultLogsLimit   = 50
	maxLogsLimit       = 100
)

type dashboardStats struct {
	TotalUsers       int64 `json:"totalUsers"`
	ActiveUsers      int64 `json:"activeUsers"`
	TotalLogs        int64 `json:"totalLogs"`
	LoginAttempts    int64 `json:"loginAttempts"`
	SuccessfulLogins int64 `json:"successfulLogins"`
}

type activityItem struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Email     *string   `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	IPAddress *string   `json:"ipAddress"`
}

type dashboardResponse struct {
	Stats          dashboardStats `json:"stats"`
	RecentActivity []activityItem `json:"recentActivity"`
}

type logItem struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	Resource  *string        `json:"resource"`
	Email     *string        `json:"email"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	IPAddress *string        `json:"ipAddress"`
	UserAgent *string        `json:"userAgent"`
	Metadata  map[string]any `json:"metadata"`
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type logsResponse struct {
	Logs       []logItem  `json:"logs"`
	Pagination pagination `json:"pagination"`
}

type toggledUser struct {
	ID       int64     `json:"id"`
	Email    string    `json:"email"`
	Role     auth.Role `json:"role"`
	IsActive bool      `json:"isActive"`
}

func (a *API) dashboard(w http.ResponseWriter, r *http.Request) {
	var (
		resp   dashboardResponse
		recent []audit.Record
	)
	since := a.now().Add(-statsWindow)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		resp.Stats.TotalUsers, resp.Stats.ActiveUsers, err = a.users.Count(ctx)
		return err
	})
	g.Go(func() error {
		st, err := a.recorder.Stats(ctx, since)
		if err != nil {
			return err
		}
		resp.Stats.TotalLogs = st.TotalLogs
		resp.Stats.LoginAttempts = st.LoginAttempts
		resp.Stats.SuccessfulLogins = st.SuccessfulLogins
		return nil
	})
	g.Go(func() error {
		var err error
		recent, err = a.recorder.Recent(ctx, recentActivitySize)
		return err
	})
	if err := g.Wait(); err != nil {
		a.internalError(w, r, "dashboard", "Failed to fetch dashboard data", err)
		return
	}

	resp.RecentActivity = make([]activityItem, 0, len(recent))
	for _, rec := range recent {
		resp.RecentActivity = append(resp.RecentActivity, activityItem{
			ID:        rec.ID,
			Action:    rec.Action,
			Email:     rec.Email,
			Timestamp: rec.Timestamp,
			Success:   rec.Success,
			IPAddress: rec.IPAddress,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1, 0)
	limit := queryInt(q.Get("limit"), defaultLogsLimit, maxLogsLimit)

	records, total, err := a.recorder.List(r.Context(), page, limit)
	if err != nil {
		a.internalError(w, r, "list_logs", "Failed to fetch access logs", err)
		return
	}

	resp := logsResponse{
		Logs: make([]logItem, 0, len(records)),
		Pagination: pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + int64(limit) - 1) / int64(limit),
		},
	}
	for _, rec := range records {
		resp.Logs = append(resp.Logs, logItem{
			ID:        rec.ID,
			Action:    rec.Action,
			Resource:  rec.Resource,
			Email:     rec.Email,
			Timestamp: rec.Timestamp,
			Success:   rec.Success,
			IPAddress: rec.IPAddress,
			UserAgent: rec.UserAgent,
			Metadata:  rec.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context())
	if err != nil {
		a.internalError(w, r, "list_users", "Failed to fetch users", err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) toggleUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	// ids start at 1: zero and negatives are simply absent rows
	var user *auth.User
	if id > 0 {
		user, err = a.users.ToggleActive(r.Context(), id)
	} else {
		err = auth.ErrNotFound
	}
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		a.internalError(w, r, "toggle_user_status", "Failed to update user status", err)
		return
	}

	state := "deactivated"
	if user.IsActive {
		state = "activated"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User " + state + " successfully",
		"user": toggledUser{
			ID:       user.ID,
			Email:    user.Email,
			Role:     user.Role,
			IsActive: user.IsActive,
		},
	})
}
