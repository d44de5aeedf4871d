package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"auditdesk.org/internal/audit"
	"auditdesk.org/internal/auth"
	"auditdesk.org/internal/obs"
)

const defaultServiceName = "auditdesk-api"

// ReadinessChecker reports whether backing services are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe пингует БД и Redis, если они заданы.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Users    auth.UserStore
	Codec    *auth.Codec
	Verifier *auth.Verifier
	Recorder *audit.Recorder
	Limiter  Limiter
	Ready    ReadinessChecker
	Logger   *slog.Logger
}

// Options are the process-level HTTP settings.
type Options struct {
	Env          string
	Version      string
	ServiceName  string
	FrontendURL  string
	MaxBodyBytes int64
	Tracing      bool
	// TrustedProxies are the peers whose X-Forwarded-For / X-Real-IP headers
	// are believed. Without any, the socket address identifies the client.
	TrustedProxies []string
}

// API собирает HTTP слой админки.
type API struct {
	mux      *http.ServeMux
	users    auth.UserStore
	codec    *auth.Codec
	verifier *auth.Verifier
	recorder *audit.Recorder
	limiter  Limiter
	ready    ReadinessChecker
	log      *slog.Logger
	opts     Options
	trusted  []netip.Prefix
	now      func() time.Time
}

func New(d Deps, o Options) (*API, error) {
	switch {
	case d.Users == nil:
		return nil, errors.New("httpapi: user store is required")
	case d.Codec == nil:
		return nil, errors.New("httpapi: token codec is required")
	case d.Recorder == nil:
		return nil, errors.New("httpapi: audit recorder is required")
	}
	if d.Verifier == nil {
		d.Verifier = auth.NewVerifier(d.Users)
	}
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if d.Logger == nil {
		d.Logger = obs.Logger()
	}
	if o.ServiceName == "" {
		o.ServiceName = defaultServiceName
	}
	trusted, err := ParseTrustedProxies(o.TrustedProxies)
	if err != nil {
		return nil, err
	}

	a := &API{
		mux:      http.NewServeMux(),
		users:    d.Users,
		codec:    d.Codec,
		verifier: d.Verifier,
		recorder: d.Recorder,
		limiter:  d.Limiter,
		ready:    d.Ready,
		log:      d.Logger,
		opts:     o,
		trusted:  trusted,
		now:      time.Now,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	admin := func(h http.HandlerFunc) http.Handler {
		return chain(h, a.Authenticate, RequireAdmin)
	}

	// auth
	a.mux.Handle("POST /api/auth/login", chain(http.HandlerFunc(a.login), RateLimit(a.limiter, "login", a.log)))
	a.mux.Handle("GET /api/auth/verify", chain(http.HandlerFunc(a.verify), a.Authenticate))
	a.mux.Handle("POST /api/auth/logout", chain(http.HandlerFunc(a.logout), a.Authenticate))

	// admin
	a.mux.Handle("GET /api/admin/dashboard", admin(a.dashboard))
	a.mux.Handle("GET /api/admin/logs", admin(a.listLogs))
	a.mux.Handle("GET /api/admin/users", admin(a.listUsers))
	a.mux.Handle("PATCH /api/admin/users/{id}/toggle-status", admin(a.toggleUserStatus))

	// health/ready/metrics
	a.mux.HandleFunc("GET /health", a.Health)
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Route not found")
	})
}

// Handler возвращает http.Handler со всем конвейером middleware.
func (a *API) Handler() http.Handler {
	var tracing Stage
	if a.opts.Tracing {
		tracing = Tracing(a.opts.ServiceName)
	}
	return chain(a.mux,
		obs.Instrument,
		tracing,
		RealIP(a.trusted),
		RequestID,
		LoggingJSON,
		SecurityHeaders,
		CORS(a.opts.FrontendURL),
		MaxBodyBytes(a.opts.MaxBodyBytes),
		a.AuditTrail,
	)
}

func (a *API) development() bool {
	return strings.EqualFold(a.opts.Env, "development")
}

// --- Health ---

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": a.now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.opts.ServiceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
