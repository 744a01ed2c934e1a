package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/config"
	appHTTP "github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/cron"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/database"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/email"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/lock"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/migration"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/observability"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/resilience"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/supabase"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/repository/postgresql"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	subscriptionService "github.com/matheuswillock/lead-flow-app-sub001/internal/service/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/upgrade"
	webhookService "github.com/matheuswillock/lead-flow-app-sub001/internal/service/webhook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.App.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(cfg.Observability.OTLPEndpoint, cfg.App.Name, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(tctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()
	metrics := observability.NewMetrics()

	db, err := database.NewPostgreSQLDB(cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		err := migration.RunMigrations(sqlDB)
		_ = sqlDB.Close()
		if err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	locker, idempotency, closeRedis, err := coordination(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	retry := resilience.Config{
		MaxRetries:     cfg.Resilience.MaxRetries,
		InitialBackoff: cfg.Resilience.InitialBackoff,
		MaxConcurrency: cfg.Resilience.GatewayConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.Resilience.HTTPTimeout}
	gateway := asaas.NewClient(cfg.Asaas, httpClient, retry, logger.Named("asaas"), metrics)
	identity := supabase.NewClient(cfg.Supabase, httpClient, retry, logger.Named("supabase"), metrics)
	emailService, err := email.NewEmailService(cfg.SMTP, logger.Named("email"))
	if err != nil {
		return fmt.Errorf("init email service: %w", err)
	}

	profileRepo := postgresql.NewProfileRepository(db)
	pendingOperatorRepo := postgresql.NewPendingOperatorRepository(db)
	seatChangeRepo := postgresql.NewSeatChangeRepository(db)
	transactor := postgresql.NewTransactor(db)

	customers := billing.NewCustomerResolver(gateway, profileRepo, logger.Named("billing"))
	creation := subscriptionService.NewSubscriptionService(subscriptionService.Deps{
		Profiles:  profileRepo,
		Gateway:   gateway,
		Customers: customers,
		Locker:    locker,
		Logger:    logger.Named("subscription"),
		Metrics:   metrics,
	})
	upgrades := upgrade.NewService(upgrade.Deps{
		Profiles:          profileRepo,
		PendingOperators:  pendingOperatorRepo,
		SeatChanges:       seatChangeRepo,
		Transactor:        transactor,
		Gateway:           gateway,
		Customers:         customers,
		Identity:          identity,
		Invites:           emailService,
		Locker:            locker,
		Logger:            logger.Named("upgrade"),
		Metrics:           metrics,
		InviteRedirectURL: cfg.Supabase.InviteRedirectURL,
	})
	webhooks := webhookService.NewWebhookService(webhookService.Deps{
		Profiles:         profileRepo,
		PendingOperators: pendingOperatorRepo,
		Upgrades:         upgrades,
		Idempotency:      idempotency,
		Locker:           locker,
		Logger:           logger.Named("webhook"),
		Metrics:          metrics,
	})

	scheduler := cron.NewScheduler(logger)
	cron.NewReconciliationJobs(upgrades).RegisterJobs(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	router := appHTTP.NewRouter(
		appHTTP.RouterConfig{
			AppName:        cfg.App.Name,
			Env:            cfg.App.Env,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			MetricsPath:    cfg.Observability.MetricsPath,
		},
		jwtauth.New("HS256", []byte(cfg.Supabase.JWTSecret), nil),
		profileRepo,
		metrics,
		appHTTP.Handlers{
			Subscription: appHTTP.NewSubscriptionHandler(creation, upgrades),
			Operator:     appHTTP.NewOperatorHandler(upgrades),
			Webhook:      appHTTP.NewWebhookHandler(webhooks, asaas.NewWebhookVerifier(cfg.Asaas.WebhookToken), logger),
		},
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server running",
			zap.String("addr", server.Addr),
			zap.String("asaas_environment", cfg.Asaas.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}

// coordination returns Redis-backed locking and webhook deduplication when
// REDIS_URL is set, in-process versions otherwise.
func coordination(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (lock.Locker, lock.IdempotencyStore, func(), error) {
	if cfg.URL == "" {
		logger.Warn("REDIS_URL not set, using in-process locks")
		return lock.NewLocalLocker(cfg.LockTTL), lock.NewMemoryIdempotencyStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	return lock.NewRedisLocker(client, cfg.LockTTL, cfg.LockTTL), lock.NewRedisIdempotencyStore(client), closeFn, nil
}
