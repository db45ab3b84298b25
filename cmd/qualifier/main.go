// Package main is the entrypoint for the SDK qualifier.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/sdkqual/internal/api"
	"github.com/kiranshivaraju/sdkqual/internal/api/handler"
	mw "github.com/kiranshivaraju/sdkqual/internal/api/middleware"
	"github.com/kiranshivaraju/sdkqual/internal/cache"
	"github.com/kiranshivaraju/sdkqual/internal/config"
	"github.com/kiranshivaraju/sdkqual/internal/poll"
	"github.com/kiranshivaraju/sdkqual/internal/qualifier"
	"github.com/kiranshivaraju/sdkqual/internal/registry"
	"github.com/kiranshivaraju/sdkqual/internal/results"
	"github.com/kiranshivaraju/sdkqual/internal/scheduler"
	"github.com/kiranshivaraju/sdkqual/internal/store"
	"github.com/kiranshivaraju/sdkqual/pkg/sdk"
)

const (
	shutdownTimeout    = 30 * time.Second
	memoryRunCapacity  = 500
	wakeRequestsPerMin = 10
)

func main() {
	slog.SetDefault(newLogger(slog.LevelInfo))

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("qualifier failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	var flags config.Flags

	cmd := &cobra.Command{
		Use:   "qualifier",
		Short: "Continuously qualify the newest v4 SDK build for one namespace",
		Long: `qualifier pins the newest SDK artifact for a namespace into a job profile,
runs the profile's tests, and records the outcome in the results repository.
It repeats forever, waiting between runs as configured on the job profile.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			slog.SetDefault(newLogger(cfg.LogLevel))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	for _, name := range config.BindFlags(cmd.Flags(), &flags) {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	packages, err := sdk.LoadPackages(cfg.NamespaceMap)
	if err != nil {
		return err
	}
	pkg, err := packages.Lookup(cfg.Target.Namespace)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"job_profile", cfg.Target.JobProfile,
		"namespace", cfg.Target.Namespace,
		"v4_version", cfg.Target.V4Version,
		"branch", cfg.Target.Branch,
		"package", pkg,
	)

	hc := newHTTPClient(cfg.HTTP)
	sched := scheduler.NewHTTPClient(cfg.Scheduler.BaseURL, cfg.Scheduler.ResultsURL,
		cfg.Scheduler.Username, cfg.Scheduler.Password, hc)
	reg := registry.NewHTTPClient(cfg.Registry.BaseURL, hc)

	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	pingers := map[string]handler.Pinger{"database": st}
	var locker results.Locker = cache.NopLocker{}
	var counter mw.Counter
	if cfg.Redis.URL != "" {
		rl, err := cache.NewRedisLocker(cfg.Redis.URL, cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("create redis locker: %w", err)
		}
		defer rl.Close()
		if err := rl.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected, publish lock enabled")
		locker, counter = rl, rl
		pingers["redis"] = rl
	}

	svc := qualifier.New(sched, reg, results.NewPublisher(cfg.Results, locker), st, qualifier.Options{
		Target:  cfg.Target,
		Package: pkg,
		Poller: poll.Poller{
			InitialDelay: cfg.Poll.InitialDelay,
			Interval:     cfg.Poll.Interval,
			Timeout:      cfg.Poll.Timeout,
		},
		SettleDelay: cfg.Loop.SettleDelay,
		DefaultWait: cfg.Loop.DefaultPostWait,
	})

	errCh := make(chan error, 1)
	if cfg.Server.Addr != "" {
		srv := api.NewServer(cfg.Server.Addr, api.NewRouter(api.Dependencies{
			Auth:          mw.NewAuth(cfg.Server.TokenHash),
			RateLimit:     mw.NewRateLimit(counter, wakeRequestsPerMin),
			HealthHandler: handler.NewHealthHandler(pingers),
			StatusHandler: handler.NewStatusHandler(svc),
			RunsHandler:   handler.NewRunsHandler(st),
			WakeHandler:   handler.NewWakeHandler(svc),
		}))
		go func() {
			slog.Info("status API listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("status API shutdown", "error", err)
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() { loopErr <- svc.Run(loopCtx) }()

	select {
	case err := <-errCh:
		cancel()
		<-loopErr
		return fmt.Errorf("status API: %w", err)
	case err := <-loopErr:
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			slog.Info("shutdown signal received, qualifier stopped")
			return nil
		}
		return err
	}
}

// openStore returns Postgres-backed history when a database is configured and
// an in-memory history otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	if cfg.URL == "" {
		slog.Info("no database configured, keeping run history in memory")
		return store.NewMemoryStore(memoryRunCapacity), func() {}, nil
	}

	if err := store.RunMigrations(cfg.URL); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("database connected")
	return store.NewPostgresStore(pool), pool.Close, nil
}

func newHTTPClient(cfg config.HTTPConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // internal endpoints use self-signed certs
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}
