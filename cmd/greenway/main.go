// Package main запускает HTTP-сервер витрины и программы лояльности Greenway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/greenway-loyalty/internal/blog"
	"github.com/mmeshcher/greenway-loyalty/internal/catalog"
	"github.com/mmeshcher/greenway-loyalty/internal/config"
	"github.com/mmeshcher/greenway-loyalty/internal/events"
	"github.com/mmeshcher/greenway-loyalty/internal/handler"
	"github.com/mmeshcher/greenway-loyalty/internal/loyalty"
	"github.com/mmeshcher/greenway-loyalty/internal/metrics"
	"github.com/mmeshcher/greenway-loyalty/internal/middleware"
	"github.com/mmeshcher/greenway-loyalty/internal/ordering"
	"github.com/mmeshcher/greenway-loyalty/internal/products"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
	"github.com/mmeshcher/greenway-loyalty/internal/service"
	"github.com/mmeshcher/greenway-loyalty/internal/session"
)

// ledger объединяет операции хранилища, нужные сервису и движку обмена.
type ledger interface {
	service.Repository
	loyalty.Ledger
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	sugar.Infow("loyalty catalog loaded",
		"tiers", len(cat.Tiers.All()),
		"rewards", len(cat.Rewards.All()),
		"products", len(cat.Products))

	posts, err := blog.Load(cfg.BlogPath)
	if err != nil {
		return fmt.Errorf("load blog: %w", err)
	}

	repo, err := newLedger(cfg, cat)
	if err != nil {
		return err
	}
	defer repo.Close()

	kv, closeKV, err := newSessionKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()
	sessions := session.NewStore(kv, cfg.SessionTTL, cfg.SessionTimeout, logger)

	engine, err := loyalty.NewEngine(cat.Tiers, cat.Rewards, cat.Program, repo, sessions, loyalty.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create redemption engine: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(metrics.NewLoyaltyMetrics(registry)),
		service.WithProducts(products.NewAggregator(logger, products.NewStaticSource("catalog", cat.Products))),
		service.WithPollInterval(cfg.OrderPollInterval),
	}

	if cfg.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, service.WithPublisher(publisher))
	}

	if cfg.OrderingSystemAddress != "" {
		opts = append(opts, service.WithOrderingClient(ordering.NewClient(cfg.OrderingSystemAddress, cfg.OrderingAPIKey)))
	}

	svc := service.NewService(repo, sessions, engine, opts...)

	memberIDs := make([]string, 0, len(cat.Members))
	for _, m := range cat.Members {
		memberIDs = append(memberIDs, m.ID)
	}
	if drifted, err := svc.AuditLedger(ctx, memberIDs); err != nil {
		sugar.Warnw("ledger audit failed", "error", err)
	} else if len(drifted) > 0 {
		sugar.Warnw("ledger balances differ from transaction history", "members", drifted)
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, cfg.SessionTTL)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, sessions will not survive a restart")
	}

	h := handler.NewHandler(svc, posts, logger, authMiddleware, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartOrderUpdates(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting greenway server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// newLedger подключает Postgres или, если DATABASE_URI не задан, журнал в памяти
// со стартовыми участниками и их историей из каталога.
func newLedger(cfg *config.Config, cat *catalog.Catalog) (ledger, error) {
	if cfg.DatabaseURI == "" {
		repo, err := repository.NewMemoryRepository(cat.Members, repository.WithHistory(cat.Transactions, cat.Redemptions))
		if err != nil {
			return nil, fmt.Errorf("seed in-memory ledger: %w", err)
		}
		return repo, nil
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}
	return repo, nil
}

func newSessionKV(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.KV, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL is not set, using in-process session store")
		return session.NewMemoryKV(), func() {}, nil
	}

	kv, err := session.NewRedisKV(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return kv, func() {
		if err := kv.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}, nil
}
