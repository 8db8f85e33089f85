package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/pos/internal/service/grpc"
	"github.com/vladislavdragonenkov/pos/internal/service/httpapi"
	"github.com/vladislavdragonenkov/pos/internal/service/ledger"
	"github.com/vladislavdragonenkov/pos/internal/service/notify"
	"github.com/vladislavdragonenkov/pos/internal/service/receipt"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

const (
	shutdownTimeout       = 5 * time.Second
	httpRequestTimeout    = 10 * time.Second
	queueDegradedFraction = 0.9
)

// Run собирает движок по конфигурации и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	notifyDeps, err := initNotifications(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := notifyDeps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close notification channels")
		}
	}()

	dispatcher := notify.NewDispatcher(notifyDeps.bindings,
		notify.WithLogger(logger.WithField("layer", "notify")),
		notify.WithMetrics(metrics.NewNotifyMetrics()),
		notify.WithDeadLetterPublisher(notifyDeps.deadLetters),
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithMaxAttempts(cfg.NotifyMaxAttempts),
		notify.WithRetryBaseDelay(cfg.NotifyRetryDelay),
		notify.WithAttemptTimeout(cfg.NotifyAttemptTimeout),
	)
	logger.WithField("channels", dispatcher.Channels()).Info("notification dispatcher configured")

	stockLedger := ledger.New(deps.stock,
		ledger.WithLogger(logger.WithField("layer", "ledger")),
		ledger.WithMetrics(metrics.NewLedgerMetrics()),
		ledger.WithMaxAttempts(cfg.LedgerMaxAttempts),
	)

	saleService := sale.NewService(stockLedger, deps.sales,
		sale.WithLogger(logger.WithField("layer", "sale")),
		sale.WithMetrics(metrics.NewSaleMetrics()),
		sale.WithNotifier(dispatcher),
		sale.WithJournal(deps.journal),
		sale.WithCatalog(deps.catalog),
		sale.WithCustomers(deps.customers),
		sale.WithReceiptHeader(receipt.Header{StoreName: cfg.StoreName}),
		sale.WithDefaultCurrency(cfg.Currency),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("notifications", healthcheck.NewQueueChecker(
		"notifications", dispatcher.QueueDepth, dispatcher.Capacity(), queueDegradedFraction,
	))

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(dispatcherCtx)
	}()

	grpcServer, grpcHealth := newGRPCServer(saleService, logger)

	restHandler := httpapi.NewHandler(saleService, deps.catalog, logger.WithField("layer", "http"))
	restSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(restHandler, httpRequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopDispatcher()
		<-dispatcherDone
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("REST API слушает %s", cfg.HTTPAddr)
		if err := restSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	stopGRPC(grpcServer, grpcHealth, logger)
	shutdownHTTP(restSrv, logger)
	shutdownHTTP(metricsSrv, logger)

	// Новые продажи больше не поступают: доставляем то, что осталось в очереди.
	stopDispatcher()
	<-dispatcherDone
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	dispatcher.Drain(drainCtx)
	cancelDrain()
	if depth := dispatcher.QueueDepth(); depth > 0 {
		logger.WithField("pending", depth).Warn("notification queue was not fully drained")
	}

	return runErr
}

// newGRPCServer регистрирует SaleService, метрики, reflection и health.
func newGRPCServer(sales grpcsvc.SaleService, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	grpcsvc.RegisterSaleServiceServer(grpcServer, grpcsvc.NewSaleServer(sales, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(grpcServer)

	// reflection для grpcurl
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// stopGRPC останавливает сервер с таймаутом на graceful stop.
func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.Shutdown()
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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
