package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"auditdesk.org/internal/audit"
	"auditdesk.org/internal/auth"
	"auditdesk.org/internal/config"
	"auditdesk.org/internal/httpapi"
	"auditdesk.org/internal/migrate"
	"auditdesk.org/internal/obs"
	"auditdesk.org/internal/store/memory"
	"auditdesk.org/internal/store/pg"
	"auditdesk.org/internal/tracing"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const serviceName = "auditdesk-api"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to optional YAML config")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		boot := obs.NewLogger(config.DefaultEnv, os.Stderr)
		for _, err := range errs {
			boot.Error("config_invalid", "error", err.Error())
		}
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Env, os.Stdout)
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Error("api_stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Хранилище: PostgreSQL, если задан DSN, иначе память (только для разработки)
	var (
		db    *sql.DB
		users auth.UserStore
		logs  audit.Store
	)
	if cfg.DatabaseURL != "" {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		db = store.DB()

		applied, err := migrate.NewManager(db, pg.Migrations()).Up(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			logger.Info("migration_applied", "name", name)
		}
		users, logs = store.Users(), store.AccessLogs()
	} else {
		logger.Warn("storage_in_memory", "reason", "DATABASE_URL is not set")
		mu := memory.NewUsers()
		users, logs = mu, memory.NewAccessLogs(mu)
	}

	var (
		rdb     *redis.Client
		limiter httpapi.Limiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		limiter = httpapi.NewRedisLimiter(rdb, "auditdesk:ratelimit", cfg.LoginRateLimit, time.Minute)
	} else {
		limiter = httpapi.NewMemoryLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst)
	}

	codec, err := auth.NewCodec(cfg.JWTSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(logs,
		audit.WithLogger(logger),
		audit.WithWriteTimeout(cfg.AuditWriteTimeout),
	)

	created, err := auth.EnsureAccount(ctx, users, cfg.BootstrapEmail, cfg.BootstrapPassword, auth.RoleSuperAdmin)
	if err != nil {
		return err
	}
	if created {
		logger.Info("bootstrap_account_created", "email", auth.NormalizeEmail(cfg.BootstrapEmail))
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
		Insecure:       !cfg.IsProduction(),
	}, logger)
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{DB: db, Redis: rdb}
	api, err := httpapi.New(httpapi.Deps{
		Users:    users,
		Codec:    codec,
		Verifier: auth.NewVerifier(users),
		Recorder: recorder,
		Limiter:  limiter,
		Ready:    ready,
		Logger:   logger,
	}, httpapi.Options{
		Env:            cfg.Env,
		Version:        version,
		ServiceName:    serviceName,
		FrontendURL:    cfg.FrontendURL,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Tracing:        tp.Enabled(),
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http_listen", "addr", srv.Addr, "version", version, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging(logger)))
		httpapi.NewGRPCServer(ready, serviceName).Register(grpcSrv)
		go func() {
			logger.Info("grpc_listen", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	// Ошибка одного из серверов тоже ведёт к штатной остановке, чтобы
	// отложенные записи аудита успели дойти до БД.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown_started")
	case runErr = <-errCh:
		logger.Error("server_failed", "error", runErr.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err.Error())
	}
	// дописываем отложенные записи аудита до закрытия БД
	recorder.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing_shutdown_failed", "error", err.Error())
	}
	logger.Info("shutdown_complete")
	return runErr
}
