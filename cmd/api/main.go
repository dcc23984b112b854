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

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/config"
	"stockmedia-reseller/internal/handler"
	"stockmedia-reseller/internal/logger"
	"stockmedia-reseller/internal/metrics"
	"stockmedia-reseller/internal/repository"
	"stockmedia-reseller/internal/server"
	"stockmedia-reseller/internal/service"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := client.InitDBClient(cfg.Database)
	if err != nil {
		return err
	}

	rdb, err := client.InitRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	nc, err := client.InitNatsClient(cfg.Nats.URL)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}

	m := metrics.MustNewMetrics(prometheus.DefaultRegisterer)

	siteRepo := repository.NewStockSiteRepository(db)
	planRepo := repository.NewSubscriptionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	apiKeyRepo := repository.NewAPIKeyRepository(db)

	if err := siteRepo.Seed(ctx, repository.DefaultStockSites()); err != nil {
		return fmt.Errorf("seed stock sites: %w", err)
	}
	if err := planRepo.SeedPlans(ctx, repository.DefaultPlans()); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}

	brokerClient := client.NewBrokerClient(&cfg.Broker, log, m)
	braintreeClient := client.NewBraintreeClient(&cfg.BrainTree)

	pointsService := service.NewPointsService(db, pointsRepo, planRepo, log.Named("points"), m)
	orderManager := service.NewOrderManager(
		orderRepo,
		brokerClient,
		service.NewEventPublisher(nc, cfg.Nats.Subject),
		cfg.Orders.ProcessingTimeout,
		log,
		m,
	)
	stockService := service.NewStockService(siteRepo, brokerClient, log.Named("stock"))
	checkout := service.NewCheckout(orderManager, pointsService, stockService, apiKeyRepo, cfg.Broker.DefaultAPIKey, log)
	purchaseService := service.NewPurchaseService(braintreeClient, pointsService, cfg.PointPrice, log.Named("purchase"))
	processor := service.NewOrderProcessor(
		orderManager,
		orderRepo,
		pointsService,
		checkout,
		service.NewLocker(rdb),
		cfg.Sweeper,
		cfg.Orders,
		log,
		m,
	)

	srv := server.NewServer(server.Handlers{
		Order:  handler.NewOrderHandler(checkout),
		Points: handler.NewPointsHandler(pointsService, purchaseService, planRepo),
		Stock:  handler.NewStockHandler(stockService, checkout),
		Admin:  handler.NewAdminHandler(pointsService, apiKeyRepo, processor),
	}, cfg.AdminToken, prometheus.DefaultGatherer, log.Named("http"))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Sweeper.Enabled {
		if err := processor.Start(gctx); err != nil {
			return err
		}
	}

	addr := cfg.HTTPAddr()
	g.Go(func() error {
		log.Info("starting HTTP server", zap.String("addr", addr), zap.String("env", cfg.Environment.Name))
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		processor.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
