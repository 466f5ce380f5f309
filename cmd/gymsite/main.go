package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ironlotus/gymsite/app/controllers"
	"github.com/ironlotus/gymsite/app/repository"
	"github.com/ironlotus/gymsite/docs"
	"github.com/ironlotus/gymsite/internal/pkg/archive"
	"github.com/ironlotus/gymsite/internal/pkg/billing"
	"github.com/ironlotus/gymsite/internal/pkg/cache"
	"github.com/ironlotus/gymsite/internal/pkg/config"
	"github.com/ironlotus/gymsite/internal/pkg/constants"
	"github.com/ironlotus/gymsite/internal/pkg/database"
	"github.com/ironlotus/gymsite/internal/pkg/logging"
	"github.com/ironlotus/gymsite/internal/pkg/membership"
	"github.com/ironlotus/gymsite/internal/pkg/router"
)

const (
	shutdownTimeout     = 15 * time.Second
	memberGaugeInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	app, cleanup, err := NewApplication(cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer cleanup()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("listening", zap.String("addr", cfg.ListenAddr()))
	if err := app.Listen(cfg.ListenAddr()); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}

// NewApplication wires storage, the payment provider client and the HTTP
// routes. The returned cleanup closes the connections it opened.
func NewApplication(cfg *config.Config, log *zap.Logger) (*fiber.App, func(), error) {
	ctx := context.Background()

	db, err := database.Open(cfg.DB, log)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { closeDB(db) }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.New(cfg.Cache, log)
		if err != nil {
			// The lock and shared rate limits are optional
			log.Warn("cache unavailable, continuing without account locks", zap.Error(err))
			redisClient = nil
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
		}
	}

	opts := billing.Options{
		WebhookSecret:   cfg.Stripe.WebhookSecret,
		SignatureMaxAge: cfg.Stripe.WebhookTolerance,
		HandlerTimeout:  cfg.Webhook.Timeout,
		Logger:          log.Named("billing"),
	}
	if cfg.Stripe.SecretKey != "" {
		resolver, err := billing.NewStripeSubscriptionResolver(cfg.Stripe.SecretKey)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts.Subscriptions = resolver
	} else {
		log.Warn("stripe.secret_key not set, invoice events without expanded subscriptions will fail")
	}
	if redisClient != nil {
		opts.Locker = billing.NewRedisAccountLocker(redisClient, cfg.Webhook.LockTTL)
	}
	if cfg.Archive.Enabled {
		a, err := archive.NewS3Archive(ctx, cfg.Archive, log.Named("archive"))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts.Archiver = a
	}
	reconciler := billing.NewReconcilerFromDB(db, opts)

	repos := repository.NewFactory(db).GetRepositories()
	members := membership.NewService(repos.User, membership.Options{
		TrialDays: cfg.Membership.TrialDays,
		Logger:    log.Named("membership"),
	})
	gaugeCtx, stopGauges := context.WithCancel(ctx)
	go members.ReportMemberCounts(gaugeCtx, memberGaugeInterval)
	closers = append(closers, stopGauges)

	if _, err := docs.Load(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               "gymsite",
		BodyLimit:             1 << 20,
		DisableStartupMessage: !cfg.IsDev(),
	})
	app.Use(recover.New(), logger.New())

	if _, err := os.Stat(docs.FilePath); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsBasePath,
			FilePath: docs.FilePath,
			Path:     "v1",
		}))
	}

	router.InstallRouter(app, router.Deps{
		Config:  cfg,
		DB:      db,
		Redis:   redisClient,
		Billing: controllers.NewBillingController(reconciler, log.Named("webhook")),
		Members: controllers.NewMemberController(members, repos.Payment, log.Named("members")),
		Log:     log,
	})

	return app, cleanup, nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}
