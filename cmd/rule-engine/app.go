package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"kestrel/internal/audit"
	"kestrel/internal/config"
	"kestrel/internal/device"
	"kestrel/internal/dispatch"
	"kestrel/internal/evaluate"
	"kestrel/internal/executor"
	"kestrel/internal/logger"
	"kestrel/internal/notify"
	"kestrel/internal/ops"
	"kestrel/internal/queue"
	"kestrel/internal/rule"
	"kestrel/internal/subscription"
	"kestrel/internal/telemetry"
	"kestrel/pkg/bootstrap"
	"kestrel/pkg/health"
	"kestrel/pkg/metrics"
)

const (
	shutdownTimeout      = 30 * time.Second
	indexRefreshInterval = 30 * time.Second
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	base        *bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	redisClient *redis.Client
	db          *sql.DB
	mongoClient *mongo.Client

	rules       rule.Repository
	index       *dispatch.Index
	bus         *telemetry.Bus
	subs        *subscription.Manager
	queueClient *queue.Client
	queueServer *queue.Server
	opsServer   *ops.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterEngineMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	a.redisClient = redisClient

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.db = db

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize mongodb: %w", err)
	}
	a.mongoClient = mongoClient

	mongoDB := mongoClient.Database(a.config.Database.MongoDB.Database)
	if err := rule.EnsureIndexes(ctx, mongoDB); err != nil {
		return fmt.Errorf("failed to ensure mongo indexes: %w", err)
	}
	a.rules = rule.NewRepository(mongoDB)

	directory := device.NewHTTPClient(a.config.Directory, a.logger)
	lastValues := device.NewLastValueStore(redisClient, directory, a.logger)

	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", a.config.Database.Redis.Host, a.config.Database.Redis.Port),
		Password: a.config.Database.Redis.Password,
		DB:       a.config.Database.Redis.DB,
	}
	a.queueClient = queue.NewClient(redisOpt, a.config.Queue)

	a.index = dispatch.NewIndex()
	if err := a.refreshIndex(ctx); err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(a.index, lastValues, a.queueClient, a.config.Telemetry.StalenessThreshold, a.logger)
	a.bus = telemetry.NewBus(a.config.Telemetry, dispatcher.HandleEvent, a.logger)
	a.bus.Start(ctx)

	a.subs = subscription.NewManager(a.bus, directory, a.rules, a.logger)
	if err := a.subs.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to rebuild topic subscriptions: %w", err)
	}

	a.base.InitProducer()

	notifyClient := notify.NewHTTPClient(a.config.Directory, a.logger)
	notifier := notify.NewNotifier(notifyClient, notifyClient, notifyClient, directory, a.rules, a.config.Notify, a.logger)

	auditor := audit.NewStore(db)
	composer := evaluate.NewComposer(directory, lastValues, a.logger)
	exec := executor.New(a.rules, composer, directory, directory, notifier, auditor, a.base.Producer, a.config.Notify, a.logger)
	a.queueServer = queue.NewServer(redisOpt, a.config.Queue, exec, a.logger)

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewPostgreSQLChecker(db))
	checks.Register(health.NewRedisChecker(redisClient))
	checks.Register(health.NewMongoDBChecker(mongoClient))
	checks.Register(health.NewMQTTChecker(a.bus.Clients))

	opsHandler := ops.NewHandler(a.rules, auditor, a.subs, checks, a.logger)
	a.opsServer = ops.NewServer(a.config.Server, opsHandler, a.logger)

	return nil
}

// refreshIndex reloads the dispatch index from the rule store so enables,
// disables and edits made by the authoring service take effect without a
// restart.
func (a *App) refreshIndex(ctx context.Context) error {
	rules, err := a.rules.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules for dispatch index: %w", err)
	}
	a.index.Rebuild(rules)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(gCtx, "Ops server listening", "port", a.config.Server.Port)
		return a.opsServer.Start()
	})

	g.Go(func() error {
		a.logger.InfowCtx(gCtx, "Starting evaluation workers", "concurrency", a.config.Queue.Concurrency)
		return a.queueServer.Start()
	})

	g.Go(func() error {
		ticker := time.NewTicker(indexRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if err := a.refreshIndex(gCtx); err != nil {
					a.logger.ErrorwCtx(gCtx, "Failed to refresh dispatch index", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return a.base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		if a.opsServer != nil {
			if err := a.opsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ops server shutdown error: %w", err))
			}
		}

		if a.queueServer != nil {
			a.queueServer.Shutdown()
		}

		if a.bus != nil {
			a.bus.Close()
		}

		if a.queueClient != nil {
			if err := a.queueClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("queue client close error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)
		return errs
	})
}
