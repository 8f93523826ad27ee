// Package app собирает сервис каталога: хранилище, кеш view, REST API,
// gRPC health, метрики и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/brandcatalog/internal/health"
	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/brandcatalog/internal/metrics"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/idempotency"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/outbox"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/rest"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/retry"
	"github.com/vladislavdragonenkov/brandcatalog/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	requestTimeout    = 15 * time.Second
	idleTimeout       = 60 * time.Second

	// Сбой применения события к кешу почти всегда означает недоступный Redis.
	cacheSyncMaxRetries = 5
)

// Run запускает сервис и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	origin := instanceOrigin()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	catalogMetrics := metrics.NewCatalogMetrics()
	views := initViewCache(ctx, cfg, catalogMetrics, logger)
	defer views.close(logger)

	events, _ := initCatalogEvents(cfg, logger)
	defer events.close(logger)

	retrier := retry.New(
		retry.Config{MaxAttempts: cfg.RetryMaxAttempts, Backoff: cfg.RetryBackoff},
		retry.WithObserver(catalogMetrics),
		retry.WithLogger(logger.WithField("component", "retry")),
	)
	catalogOptions := []catalog.Option{
		catalog.WithCache(views.cache),
		catalog.WithTransactor(deps.transactor),
		catalog.WithRetrier(retrier),
		catalog.WithMetrics(catalogMetrics),
		catalog.WithLogger(logger.WithField("component", "catalog")),
		catalog.WithDuplicateCategoryCheck(cfg.RejectDuplicateCategory),
		catalog.WithOrigin(origin),
	}
	// Без Kafka события некому публиковать, поэтому outbox не ведётся.
	if events.enabled() {
		catalogOptions = append(catalogOptions, catalog.WithOutbox(deps.outboxRepo))
	}
	catalogService := catalog.New(deps.brands, deps.products, deps.prices, catalogOptions...)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if views.checker != nil {
		healthHandler.RegisterChecker("redis", views.checker)
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	httpServer := newHTTPServer(catalogService, deps, cfg, logger)
	grpcServer, grpcHealth := newGRPCServer(logger)

	g, gctx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", httpListener.Addr())
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcListener.Addr())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewIdempotencyMetricsWithRegisterer(nil)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	if events.enabled() {
		worker := outbox.NewWorker(deps.outboxRepo, events.publisher(),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(nil)),
			outbox.WithDLQPublisher(events.deadLetters()),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})

		if !views.shared {
			startCacheSync(gctx, g, cfg, views, origin, logger)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthHandler.SetDraining(true)
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		stopGRPC(grpcServer, logger)
		shutdownHTTP(httpServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// startCacheSync подписывает экземпляр на события каталога, чтобы локальный
// кеш сбрасывался и после изменений, сделанных другими экземплярами.
func startCacheSync(ctx context.Context, g *errgroup.Group, cfg Config, views *viewCache, origin string, logger *log.Entry) {
	syncLogger := logger.WithField("component", "cache-sync")
	consumer, err := kafka.NewConsumer(
		splitBrokers(cfg.KafkaBrokers),
		"catalog-cache-sync-"+origin,
		[]string{cfg.KafkaTopic},
		newCacheSyncHandler(views.cache, origin, syncLogger),
		kafka.WithMaxRetries(cacheSyncMaxRetries),
	)
	if err != nil {
		syncLogger.WithError(err).Warn("failed to create cache sync consumer, remote changes will expire by ttl")
		return
	}
	if err := consumer.Start(ctx); err != nil {
		syncLogger.WithError(err).Warn("failed to start cache sync consumer")
		return
	}

	g.Go(func() error {
		<-ctx.Done()
		if err := consumer.Stop(); err != nil {
			syncLogger.WithError(err).Warn("cache sync consumer stopped with error")
		}
		return nil
	})
}

func newHTTPServer(svc *catalog.Service, deps *runtimeDependencies, cfg Config, logger *log.Entry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	handler := rest.NewHandler(svc,
		rest.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		rest.WithMetrics(metrics.NewHTTPMetricsWithRegisterer(nil)),
		rest.WithLogger(logger.WithField("component", "rest")),
	)
	return &http.Server{
		Handler:           rest.NewRouter(handler),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// newGRPCServer поднимает gRPC с health и reflection для проб и grpcurl.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// stopGRPC останавливает gRPC сервер, принудительно после таймаута.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// instanceOrigin возвращает идентификатор экземпляра для событий каталога.
func instanceOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "catalog"
	}
	return host + "-" + uuid.NewString()[:8]
}
