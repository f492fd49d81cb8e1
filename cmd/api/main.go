package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sendwave/campaign-engine/internal/config"
	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/failover"
	"github.com/sendwave/campaign-engine/internal/handler"
	"github.com/sendwave/campaign-engine/internal/infra/postgresql"
	"github.com/sendwave/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/sendwave/campaign-engine/internal/infra/redis"
	"github.com/sendwave/campaign-engine/internal/observability"
	"github.com/sendwave/campaign-engine/internal/provider"
	"github.com/sendwave/campaign-engine/internal/queue"
	"github.com/sendwave/campaign-engine/internal/registry"
	"github.com/sendwave/campaign-engine/internal/repository"
	"github.com/sendwave/campaign-engine/internal/scheduler"
	"github.com/sendwave/campaign-engine/internal/service"
	"github.com/sendwave/campaign-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("campaign-engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	campaignRepo := repository.NewGormCampaignRepo(db)
	jobRepo := repository.NewGormJobRepo(db)
	senderRepo := repository.NewGormSenderRepo(db)
	failoverRepo := repository.NewGormFailoverEventRepo(db)
	poolRepo := repository.NewGormPoolConfigRepo(db)
	audienceRepo := repository.NewGormAudienceRepo(db)

	poolCfg, err := poolRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pool config: %w", err)
	}
	if cfg.GlobalRateCap > 0 {
		poolCfg.GlobalRateCap = cfg.GlobalRateCap
	}

	pool, err := registry.NewSenderRegistry(senderRepo, *poolCfg, logger)
	if err != nil {
		return err
	}
	if err := pool.Load(ctx); err != nil {
		return fmt.Errorf("failed to load sender pool: %w", err)
	}

	controller, err := failover.NewController(pool, logger)
	if err != nil {
		return err
	}

	limiter, err := infraredis.NewSenderRateLimiter(rdb, pool.CapacityOf)
	if err != nil {
		return err
	}

	whatsapp, err := provider.NewWhatsAppProvider(cfg.ProviderEndpoint, cfg.ProviderToken)
	if err != nil {
		return err
	}

	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer rmq.Close()
		publisher = queue.NewRabbitMQPublisher(rmq)
	}

	metrics := observability.NewMetrics()

	manager, err := scheduler.NewManager(pool, controller, logger, metrics,
		time.Duration(cfg.SweepIntervalSec)*time.Second)
	if err != nil {
		return err
	}

	schedDeps := scheduler.Deps{
		Jobs:        jobRepo,
		Campaigns:   campaignRepo,
		Failovers:   failoverRepo,
		Pool:        pool,
		Controller:  controller,
		Provider:    whatsapp,
		Limiter:     limiter,
		Events:      publisher,
		Logger:      logger,
		Metrics:     metrics,
		BatchSize:   cfg.DispatchBatch,
		MaxAttempts: cfg.MaxSendAttempts,
	}

	campaignSvc, err := service.NewCampaignService(
		campaignRepo, jobRepo, audienceRepo, failoverRepo,
		pool, manager, schedDeps, publisher, logger,
	)
	if err != nil {
		return err
	}

	senderSvc, err := service.NewSenderService(pool, poolRepo, logger)
	if err != nil {
		return err
	}

	signalSvc, err := service.NewSignalService(jobRepo, pool, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "campaign-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterCampaignRoutes(app, campaignSvc); err != nil {
		return err
	}
	if err := handler.RegisterSenderRoutes(app, senderSvc); err != nil {
		return err
	}
	if err := handler.RegisterWebhookRoutes(app, signalSvc); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return manager.Start(groupCtx)
	})

	group.Go(func() error {
		logger.Info("campaign-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	// Relaunch loops for campaigns that were RUNNING when the process died.
	if err := recoverRunningCampaigns(ctx, campaignRepo, campaignSvc, logger); err != nil {
		logger.Warn("failed to recover running campaigns", zap.Error(err))
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func recoverRunningCampaigns(ctx context.Context, campaigns repository.CampaignRepository, svc *service.CampaignService, logger *zap.Logger) error {
	running, err := campaigns.ListByStatus(ctx, domain.CampaignRunning)
	if err != nil {
		return err
	}
	for _, campaign := range running {
		if _, err := svc.Start(ctx, campaign.ID); err != nil {
			logger.Warn("failed to resume campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}
