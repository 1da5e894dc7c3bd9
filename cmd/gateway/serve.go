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

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/coordination"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/override"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"github.com/aman-churiwal/admission-gateway/internal/scheduler"
	"github.com/aman-churiwal/admission-gateway/internal/server"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admission gateway",
	Long: `Start the HTTP server.

Rules are loaded from the configured YAML file (reloaded on change) and,
when a database is enabled, from the rate_limit_rules table. With Redis
enabled, rules marked distributed share their counters across instances.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	deps := server.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Health:  healthcheck.NewChecker(healthcheck.Config{Logger: logger}),
	}

	// Coordination store
	var coordinator coordination.Client
	if cfg.Redis.Enabled {
		redis, err := storage.NewRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer redis.Close()
		logger.Info("connected to redis", "addr", cfg.Redis.GetRedisAddr())

		breaker := circuitbreaker.New(circuitbreaker.Config{
			Name:           "redis",
			MaxFailures:    cfg.CircuitBreaker.MaxFailures,
			OpenTimeout:    cfg.CircuitBreaker.OpenTimeout.Std(),
			HalfOpenProbes: cfg.CircuitBreaker.HalfOpenProbes,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				m.SetBreakerState(name, int(to))
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
		m.SetBreakerState("redis", int(circuitbreaker.StateClosed))

		coordinator = coordination.NewGuardedClient(
			coordination.NewRedisClient(redis.Client, coordination.RedisOptions{
				Prefix:  cfg.Redis.Prefix,
				Timeout: cfg.Redis.Timeout.Std(),
			}),
			breaker,
		)
		deps.Breaker = breaker
		deps.Health.Register("redis", redis)
	}

	store := rules.NewStore(rules.ValidateOptions{DistributedAvailable: coordinator != nil})
	store.OnChange(func() { m.SetRulesLoaded(len(store.ListRules())) })
	deps.Rules = store

	sched := scheduler.New(logger)

	// Rule database
	if cfg.Database.Enabled {
		postgres, err := storage.NewPostgres(cfg.Database.DSN, storage.PostgresOptions{
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Std(),
			LogLevel:        cfg.Database.LogLevel,
		})
		if err != nil {
			return err
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		repo := repository.NewRuleRepository(postgres)
		refresh := scheduler.RefreshJob(cfg.Rules.RefreshSchedule, repo, store, m)
		if err := refresh.Run(ctx); err != nil {
			return fmt.Errorf("failed to load rules from database: %w", err)
		}
		if err := sched.Add(refresh); err != nil {
			return err
		}

		deps.Repository = repo
		deps.Health.Register("database", postgres)
	}

	// Rule file
	if cfg.Rules.File != "" {
		watcher := rules.NewFileWatcher(cfg.Rules.File, store, logger.With("component", "rules"))
		watcher.OnReload(func(err error) { m.ObserveRuleReload(rules.PartitionFile, err) })

		switch err := watcher.Load(); {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("rule file not found", "path", cfg.Rules.File)
		case err != nil:
			return err
		}

		if cfg.Rules.Watch {
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					logger.Error("rule file watcher stopped", "error", err)
				}
			}()
		}
	}

	registry := ratelimit.NewRegistry(nil)
	deps.Registry = registry

	opts := service.Options{
		Rules:    store,
		Registry: registry,
		Resolver: override.NewResolver(cfg.RateLimit.CredentialHeader, cfg.RateLimit.UserHeader),
		Metrics:  m,
		Logger:   logger.With("component", "admission"),
		FailOpen: cfg.RateLimit.FailOpen,
	}
	if coordinator != nil {
		opts.Coordinator = coordinator
	}
	deps.Service = service.NewAdmissionService(opts)

	if err := sched.Add(scheduler.SweepJob(cfg.RateLimit.SweepSchedule, registry, cfg.RateLimit.IdleTTL.Std(), m, logger)); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	deps.Health.Start()
	defer deps.Health.Stop()

	srv, err := server.New(deps)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Run(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := cfg.Server.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
