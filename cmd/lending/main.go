// LendingService 主程序
// 功能：贷款案件生命周期引擎，驱动案件状态机并向外部账本过账
// 架构：DDD 分层 + gin HTTP + Kafka 事件 + 可选 MySQL/Redis
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/loanportfolio/internal/lending/application"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/ledger"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/lock"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/messaging"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/persistence/cached"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/persistence/memory"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/persistence/mysql"
	httphandler "github.com/wyfcoding/loanportfolio/internal/lending/interfaces/http"
	"github.com/wyfcoding/loanportfolio/pkg/cache"
	"github.com/wyfcoding/loanportfolio/pkg/config"
	"github.com/wyfcoding/loanportfolio/pkg/db"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
	"github.com/wyfcoding/loanportfolio/pkg/metrics"
	"github.com/wyfcoding/loanportfolio/pkg/middleware"
	"github.com/wyfcoding/loanportfolio/pkg/mq"
	"github.com/wyfcoding/loanportfolio/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.GetEnv("LENDING_CONFIG", "configs/lending/config.toml"), "config file path")
	flag.Parse()

	// 1. 加载 .env 与配置
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	loggerCfg := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
	if err := logger.Init(loggerCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting LendingService",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	if err := run(ctx, cfg); err != nil {
		logger.Error(ctx, "LendingService exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "LendingService stopped")
}

// components 启动期组装的依赖
type components struct {
	products domain.ProductRepository
	cases    domain.CaseRepository
	txm      domain.TransactionManager
	locker   domain.CaseLocker
	ledger   domain.LedgerClient
	notifier domain.EventNotifier
	outbox   domain.EventNotifier
	limiter  ratelimit.RateLimiter
	relay    *messaging.OutboxRelay
	closers  []func() error
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn(context.Background(), "Failed to close resource", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	metricsInstance := metrics.New(cfg.ServiceName)

	comp, err := build(ctx, cfg, metricsInstance)
	if err != nil {
		return err
	}
	defer comp.close()

	appLogger := slog.Default().With("service", cfg.ServiceName)
	productService := application.NewProductService(comp.products, comp.cases, comp.locker, appLogger)
	commandService := application.NewCaseCommandService(
		comp.products, comp.cases, comp.ledger, comp.notifier, comp.outbox,
		comp.locker, comp.txm, metricsInstance, appLogger, cfg.Lending.CommitTimeout,
	)
	queryService := application.NewCaseQueryService(comp.products, comp.cases)

	httpServer := createHTTPServer(cfg, metricsInstance, comp.limiter,
		httphandler.NewLendingHandler(productService, commandService, queryService))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metricsInstance.StartHTTPServer(gctx, cfg.Metrics.Port, cfg.Metrics.Path)
		})
	}
	if comp.relay != nil {
		g.Go(func() error {
			return comp.relay.Run(gctx)
		})
	}

	return g.Wait()
}

// build 按配置组装仓储、锁、账本与事件通道
func build(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*components, error) {
	comp := &components{}
	fail := func(err error) (*components, error) {
		comp.close()
		return nil, err
	}

	// 仓储与事务
	var database *db.DB
	switch cfg.Database.Driver {
	case "mysql":
		var err error
		database, err = db.Init(cfg.Database)
		if err != nil {
			return fail(err)
		}
		comp.closers = append(comp.closers, database.Close)
		if cfg.Database.AutoMigrate {
			if err := mysql.AutoMigrate(database.DB, &messaging.OutboxMessage{}); err != nil {
				return fail(fmt.Errorf("auto migrate: %w", err))
			}
		}
		comp.products = mysql.NewProductRepository(database.DB)
		comp.cases = mysql.NewCaseRepository(database.DB)
		comp.txm = database
	default:
		logger.Warn(ctx, "Using in-memory repositories; state is lost on restart")
		comp.products = memory.NewProductRepository()
		comp.cases = memory.NewCaseRepository()
		comp.txm = memory.TransactionManager{}
	}
	if cfg.Lending.ProductCacheTTL > 0 {
		comp.products = cached.NewProductRepository(comp.products, cfg.Lending.ProductCacheTTL)
	}

	// Redis：分布式锁与共享限流
	var redisCache *cache.RedisCache
	if cfg.Lending.LockBackend == "redis" || cfg.RateLimit.Enabled {
		rc, err := cache.New(cfg.Redis)
		switch {
		case err == nil:
			redisCache = rc
			comp.closers = append(comp.closers, rc.Close)
		case cfg.Lending.LockBackend == "redis":
			return fail(err)
		default:
			logger.Warn(ctx, "Redis unavailable, falling back to in-process rate limiter", "error", err)
		}
	}

	if cfg.Lending.LockBackend == "redis" {
		comp.locker = lock.NewRedisLocker(redisCache, cfg.Lending.LockTTL, cfg.Lending.LockRetryDelay)
	} else {
		comp.locker = lock.NewLocalLocker()
	}

	if cfg.RateLimit.Enabled {
		if redisCache != nil {
			comp.limiter = ratelimit.NewRedisRateLimiter(redisCache.GetClient())
		} else {
			comp.limiter = ratelimit.NewLocalRateLimiter()
		}
	}

	// 账本
	switch cfg.Ledger.Driver {
	case "http":
		client := ledger.NewHTTPClient(ledger.HTTPConfig{
			BaseURL:    cfg.Ledger.BaseURL,
			Timeout:    cfg.Ledger.Timeout,
			RetryCount: cfg.Ledger.RetryCount,
		})
		comp.ledger = ledger.NewBreakerClient(client, ledger.BreakerConfig{
			ConsecutiveFailures: cfg.Ledger.BreakerFailures,
			OpenTimeout:         cfg.Ledger.BreakerOpenTimeout,
		})
	default:
		logger.Warn(ctx, "Using in-memory ledger")
		comp.ledger = ledger.NewMemoryLedger()
	}

	// 事件
	var producer mq.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		kp := mq.NewProducer(mq.Config{Brokers: cfg.Kafka.Brokers, MaxRetries: 3, RetryBackoff: 100})
		producer = kp
		comp.closers = append(comp.closers, kp.Close)
	}

	switch {
	case cfg.Lending.OutboxEnabled && producer != nil:
		comp.outbox = messaging.NewOutboxNotifier(database.DB, cfg.Lending.EventTopic)
		comp.notifier = messaging.NoopNotifier{}
		comp.relay = messaging.NewOutboxRelay(messaging.NewGormOutboxStore(database.DB), producer, m,
			cfg.Lending.OutboxInterval, cfg.Lending.OutboxBatchSize, cfg.Lending.OutboxRetention)
	case producer != nil:
		comp.notifier = messaging.NewKafkaNotifier(producer, cfg.Lending.EventTopic)
	default:
		if cfg.Lending.OutboxEnabled {
			logger.Warn(ctx, "Outbox enabled without Kafka brokers; events are only logged")
		}
		comp.notifier = messaging.NewLogNotifier(slog.Default())
	}

	return comp, nil
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, m *metrics.Metrics, limiter ratelimit.RateLimiter, handler *httphandler.LendingHandler) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))

	handler.RegisterRoutes(router, middleware.RateLimitMiddleware(limiter, cfg.RateLimit))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})

	return &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
