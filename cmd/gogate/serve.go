package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/metrics/export/prometheus"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/store/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr    string
	devMode       bool
	devAdminPass  string
	tenantHeader  string
	countryHeader string
	trustProxy    bool
	auditStderr   bool
	metricsLog    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the login, logout and session endpoints",
	Long: `serve mounts the request gate in front of:

  POST /api/login     usr, pwd (or otp, tmp_id to confirm a second factor)
  POST /api/logout    optional user to log another principal out
  GET  /api/session   the current principal and CSRF token
  GET  /metrics       Prometheus counters
  GET  /healthz       session backend round trip

--metrics-log-interval also reads the same counters through an
OpenTelemetry meter and logs them periodically.

With --dev it runs against an in-process Redis and an in-memory sqlite
database seeded with an Administrator account.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&listenAddr, "addr", ":8000", "listen address")
	f.BoolVar(&devMode, "dev", false, "use in-process Redis and sqlite")
	f.StringVar(&devAdminPass, "admin-password", "admin", "Administrator password seeded in --dev mode")
	f.StringVar(&tenantHeader, "tenant-header", "", "request header naming the tenant; empty serves one tenant")
	f.StringVar(&countryHeader, "country-header", "", "request header carrying the client country code")
	f.BoolVar(&trustProxy, "trust-proxy", false, "take the client IP from X-Forwarded-For")
	f.BoolVar(&auditStderr, "audit-stderr", false, "also write authentication events to stderr as JSON lines")
	f.DurationVar(&metricsLog, "metrics-log-interval", 0, "log OpenTelemetry counter readings at this interval; 0 disables")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		rdb   redis.UniversalClient
		store backend
	)
	if devMode {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start in-process redis: %w", err)
		}
		defer mr.Close()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})

		db, err := sqlite.Open(ctx, sqlite.Memory)
		if err != nil {
			return err
		}
		if err := seedAdministrator(ctx, db, cfg.Password, devAdminPass); err != nil {
			_ = db.Close()
			return err
		}
		store = db
		cfg.Cookie.Secure = false
		logger.Warn("development mode: state is lost on exit", "redis", mr.Addr())
	} else {
		if rdb, err = openRedis(ctx); err != nil {
			return err
		}
		if store, err = openBackend(ctx); err != nil {
			_ = rdb.Close()
			return err
		}
	}
	defer func() { _ = rdb.Close() }()
	defer func() { _ = store.Close() }()

	if auditStderr {
		cfg.Audit.Enabled = true
	}
	b := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(store).
		WithAuditLog(store).
		WithLogger(logger)
	if auditStderr {
		b.WithAuditSink(audit.NewJSONWriterSink(os.Stderr))
	}
	engine, err := b.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	var meters *meterReader
	if metricsLog > 0 {
		if meters, err = newMeterReader(engine); err != nil {
			return err
		}
		defer func() { _ = meters.Close() }()
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           routes(engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweepSessions(gctx, engine, cfg.Session.PurgeInterval, logger)
	})
	g.Go(func() error {
		return logMetrics(gctx, meters, metricsLog, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func routes(engine *goGate.Engine, logger *slog.Logger) http.Handler {
	opts := middleware.Options{
		CountryHeader:      countryHeader,
		IgnoreForwardedFor: !trustProxy,
		Logger:             logger,
	}
	if tenantHeader != "" {
		opts.TenantResolver = func(r *http.Request) string { return r.Header.Get(tenantHeader) }
	}
	gate := middleware.Gate(engine, opts)

	mux := http.NewServeMux()
	mux.Handle("POST /api/login", gate(middleware.LoginHandler(engine)))
	mux.Handle("POST /api/logout", gate(middleware.LogoutHandler(engine)))
	mux.Handle("GET /api/session", gate(middleware.SessionHandler(engine)))
	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(engine).Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := engine.Ping(r.Context()); err != nil {
			http.Error(w, "session backend unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// sweepSessions removes expired sessions every interval until ctx ends.
func sweepSessions(ctx context.Context, engine *goGate.Engine, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := engine.PurgeExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions purged", "count", n)
			}
		}
	}
}

func seedAdministrator(ctx context.Context, db backend, cfg password.Config, secret string) error {
	hasher, err := password.NewHasher(cfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return err
	}
	return db.Upsert(ctx, principal.Administrator, principal.Fields{
		principal.FieldKind:         principal.KindSystemUser.String(),
		principal.FieldEnabled:      "1",
		principal.FieldPasswordHash: hash,
		principal.FieldFirstName:    principal.Administrator,
	})
}
