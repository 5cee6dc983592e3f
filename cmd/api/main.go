package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/authsync/internal/api/http"
	"github.com/spec-kit/authsync/internal/api/http/handlers"
	"github.com/spec-kit/authsync/internal/auth"
	"github.com/spec-kit/authsync/internal/config"
	"github.com/spec-kit/authsync/internal/events"
	"github.com/spec-kit/authsync/internal/identity"
	"github.com/spec-kit/authsync/internal/observability"
	"github.com/spec-kit/authsync/internal/persistence"
	"github.com/spec-kit/authsync/internal/repository"
	"github.com/spec-kit/authsync/internal/service"
	"github.com/spec-kit/authsync/internal/session"
	"github.com/spec-kit/authsync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	var (
		records identity.SessionRecordStore = identity.NewMemorySessionRecordStore()
		storage identity.SessionStorage     = identity.NewMemorySessionStorage()
	)
	if rdb != nil {
		records = identity.NewRedisSessionRecordStore(rdb.Client, cfg.Redis.KeyPrefix)
		storage = identity.NewRedisSessionStorage(rdb.Client, cfg.Redis.KeyPrefix, cfg.Session.StorageKey)
	}

	pool := pg.PoolHandle()
	identityRepo := repository.NewIdentityRepository(pool)
	confirmationRepo := repository.NewConfirmationRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)

	sessionTokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	adminTokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AdminTokenTTL())
	dispatcher := events.NewInMemoryDispatcher()

	provider := identity.NewProvider(identity.ProviderConfig{
		BcryptCost:               cfg.Auth.BcryptCost,
		RefreshTokenTTL:          cfg.Auth.RefreshTokenTTL(),
		ConfirmationTTL:          cfg.Auth.ConfirmationTTL(),
		RequireEmailConfirmation: cfg.Auth.RequireEmailConfirmation,
	}, identity.ProviderDependencies{
		Accounts:      identityRepo,
		Confirmations: confirmationRepo,
		Records:       records,
		Storage:       storage,
		Tokens:        sessionTokens,
		Dispatcher:    dispatcher,
		Logger:        logger.Named("identity"),
	})

	mailer := service.NewMailer(cfg.Notification, logger.Named("mailer"))
	notifications := service.NewNotificationService(dispatcher, mailer, logger.Named("notification"), cfg.Notification)
	stopNotifications := worker.StartNotificationWorker(notifications)
	defer stopNotifications()

	reconciler := session.NewReconciler(provider, profileRepo, session.Options{
		RemoteTimeout: cfg.Session.RemoteCallTimeout,
		Logger:        logger.Named("session"),
		Metrics:       metrics,
	})
	if err := reconciler.Start(ctx); err != nil {
		// bootstrap failures leave a signed-out state with the error published
		logger.Warn("session bootstrap failed", zap.Error(err))
	}
	defer reconciler.Stop()

	credentials := service.NewCredentialService(service.CredentialDependencies{
		Client:     provider,
		Reconciler: reconciler,
		Profiles:   profileRepo,
		Logger:     logger.Named("credentials"),
		Metrics:    metrics,
	}, cfg.Session.RemoteCallTimeout)
	admins := service.NewAdminService(service.AdminDependencies{
		Client:   provider,
		Admins:   adminRepo,
		Profiles: profileRepo,
		Tokens:   adminTokens,
		Logger:   logger.Named("admin"),
		Metrics:  metrics,
	}, cfg.Session.RemoteCallTimeout)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:            handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rdb),
		Auth:              handlers.NewAuthHandler(credentials),
		Admin:             handlers.NewAdminHandler(admins),
		AdminMiddleware:   auth.NewAdminMiddleware(adminTokens, adminRepo),
		SessionMiddleware: auth.NewSessionMiddleware(sessionTokens, reconciler.State),
		Gatherer:          registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("listening", zap.String("addr", cfg.App.Addr()))

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("fiber shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
