package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"auditdesk.org/internal/obs"
)

const defaultWriteTimeout = 5 * time.Second

// Recorder appends audit records on a best-effort basis. Write failures are
// reported to the operator log and metrics, never to the caller.
type Recorder struct {
	store   Store
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithLogger sets the operator logger used for write failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithWriteTimeout bounds each detached write.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		log:     obs.Logger(),
		timeout: defaultWriteTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes one entry synchronously and swallows any failure.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	rec := e.record(r.now().UTC())
	err := r.append(ctx, rec)
	if err == nil {
		obs.AuditWrite("ok")
		return
	}
	obs.AuditWrite("error")
	r.log.ErrorContext(ctx, "audit_write_failed",
		"request_id", RequestIDFromContext(ctx),
		"audit_action", rec.Action,
		"audit_success", rec.Success,
		"user_id", e.UserID,
		"error", err.Error(),
	)
}

// RecordAsync writes the entry on a detached goroutine. The write survives
// cancellation of ctx and is bounded by the recorder's write timeout.
func (r *Recorder) RecordAsync(ctx context.Context, e Entry) {
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()
		r.Record(ctx, e)
	}()
}

// Wait blocks until every RecordAsync call has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) append(ctx context.Context, rec *Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit store panic: %v", p)
		}
	}()
	return r.store.Append(ctx, rec)
}

// List returns one page of records, newest first, and the total count.
// A page past the end yields an empty slice.
func (r *Recorder) List(ctx context.Context, page, pageSize int) ([]Record, int64, error) {
	if page < 1 || pageSize <= 0 {
		return nil, 0, ErrInvalidPage
	}

	var (
		records []Record
		total   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = r.store.List(gctx, (page-1)*pageSize, pageSize)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = r.store.Count(gctx, CountQuery{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, total, nil
}

// Recent returns the n newest records.
func (r *Recorder) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, ErrInvalidPage
	}
	records, err := r.store.List(ctx, 0, n)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Stats summarizes the audit trail for the dashboard.
type Stats struct {
	TotalLogs        int64
	LoginAttempts    int64
	SuccessfulLogins int64
}

// Stats counts every record plus login activity since the given time.
func (r *Recorder) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var s Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.TotalLogs, err = r.store.Count(gctx, CountQuery{})
		return err
	})
	g.Go(func() error {
		var err error
		s.LoginAttempts, err = r.store.Count(gctx, CountQuery{ActionContains: "LOGIN", Since: since})
		return err
	})
	g.Go(func() error {
		var err error
		s.SuccessfulLogins, err = r.store.Count(gctx, CountQuery{ActionEquals: ActionLoginSuccess, Since: since})
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return s, nil
}
