package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/qbank-platform/qbank/internal/api"
	"github.com/qbank-platform/qbank/internal/auth"
	"github.com/qbank-platform/qbank/internal/config"
	"github.com/qbank-platform/qbank/internal/database"
	"github.com/qbank-platform/qbank/internal/governance"
	"github.com/qbank-platform/qbank/internal/governance/audit"
	"github.com/qbank-platform/qbank/internal/governance/quota"
	mw "github.com/qbank-platform/qbank/internal/middleware"
	inats "github.com/qbank-platform/qbank/internal/nats"
	"github.com/qbank-platform/qbank/internal/profiles"
	iredis "github.com/qbank-platform/qbank/internal/redis"
	"github.com/qbank-platform/qbank/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// PostgreSQL
	if cfg.DB.AutoMigrate {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			return err
		}
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// NATS (optional)
	var (
		natsClient *inats.Client
		publisher  quota.EventPublisher
	)
	auditRepo := audit.NewRepository(pool)
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())

		consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	// Quota engine
	anchor, err := quota.ParseAnchor(cfg.Quota.RolloverAnchor)
	if err != nil {
		return err
	}
	window := quota.NewWindow(anchor)
	clock := quota.RealClock{}

	profileReader := profiles.NewReader(pool)
	configStore := quota.NewConfigStore(pool)
	ledger, err := newLedger(cfg.Quota.LedgerBackend, pool, redisClient, window)
	if err != nil {
		return err
	}
	engine := quota.NewEngine(quota.NewResolver(profileReader, configStore, clock), ledger, window, clock, publisher)
	slog.Info("quota engine ready", "ledger", cfg.Quota.LedgerBackend, "anchor", anchor)

	govHandler := governance.NewHandler(engine, configStore, profileReader, auditRepo, publisher)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	consumeLimiter := mw.NewRateLimiter(redisClient, "consume", mw.ByUser(auth.UserID),
		cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec)

	healthChecks := []api.HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }},
		{Name: "redis", Check: func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) }},
		{Name: "nats"},
	}
	if natsClient != nil {
		healthChecks[2].Check = func(context.Context) error {
			if !natsClient.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}

	// Router
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		ConsumeRateLimiter: consumeLimiter.Middleware,
		HealthChecks:       healthChecks,
	}, api.HandlerSet{
		GetQuotaSummary: govHandler.GetSummary,
		GetQuotaConfig:  govHandler.GetConfig,
		GetQuotaWindow:  govHandler.GetWindow,
		ConsumeAnswer:   govHandler.ConsumeAnswer,
		ConsumePaper:    govHandler.ConsumePaper,

		ListAuditLogs: govHandler.ListAuditLogs,

		AdminGetQuotaConfig:    govHandler.GetQuotaConfig,
		AdminUpdateQuotaConfig: govHandler.UpdateQuotaConfig,
		AdminGetOverride:       govHandler.GetOverride,
		AdminPutOverride:       govHandler.PutOverride,
		AdminDeleteOverride:    govHandler.DeleteOverride,
		AdminListAuditLogs:     govHandler.AdminListAuditLogs,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireRole(profileReader, profiles.RoleAdmin, profiles.RoleSuperAdmin),
	})

	return server.New(cfg.Server, router).Run(ctx)
}

func newLedger(backend string, pool *pgxpool.Pool, rdb goredis.Cmdable, window quota.Window) (quota.Ledger, error) {
	switch backend {
	case "redis":
		return quota.NewRedisLedger(rdb, window), nil
	case "postgres":
		return quota.NewRepository(pool, window), nil
	default:
		return nil, errors.New("unknown quota ledger backend: " + backend)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
