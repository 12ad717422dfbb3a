package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/auth"
	"github.com/vladislavdragonenkov/lessons/internal/clock"
	healthcheck "github.com/vladislavdragonenkov/lessons/internal/health"
	"github.com/vladislavdragonenkov/lessons/internal/metrics"
	"github.com/vladislavdragonenkov/lessons/internal/service/httpapi"
	"github.com/vladislavdragonenkov/lessons/internal/service/idempotency"
	"github.com/vladislavdragonenkov/lessons/internal/service/outbox"
	"github.com/vladislavdragonenkov/lessons/internal/service/saga"
	"github.com/vladislavdragonenkov/lessons/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилища, воркеры, HTTP API и сервер метрик и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	base, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	logger := base.WithField("component", "app")
	clk := clock.NewSystem()

	deps, err := initRuntimeDependencies(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	pubs, err := initPublishers(cfg, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubs.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close publisher")
		}
	}()

	authn, err := newAuthenticator(cfg, clk)
	if err != nil {
		return err
	}
	if authn == nil {
		logger.Warn("admin credentials are not configured, admin API is disabled")
	}

	coordinator := saga.NewCoordinator(
		deps.capacity,
		deps.sequence,
		deps.repo,
		deps.timelineRepo,
		deps.outboxRepo,
		clk,
		saga.WithLogger(base.WithField("component", "saga")),
		saga.WithMetrics(metrics.NewReservationMetrics()),
	)

	var limiter *httpapi.RateLimiter
	if cfg.rateLimitEnabled() && deps.redis != nil {
		limiter = httpapi.NewRateLimiter(redis.Scripter(deps.redis), httpapi.RateLimitConfig{
			Capacity:       cfg.RateLimitCapacity,
			RefillTokens:   1,
			RefillInterval: cfg.RateLimitRefillEvery,
			Prefix:         cfg.RedisPrefix + ":rl",
		}, clk, base.WithField("component", "ratelimit"))
	}

	api := httpapi.NewServer(httpapi.Deps{
		Lessons:        deps.lessons,
		Orders:         deps.repo,
		Timeline:       deps.timelineRepo,
		Service:        coordinator,
		Guard:          idempotency.NewGuard(deps.idempotencyRepo, clk, cfg.IdempotencyTTL, base.WithField("component", "idempotency")),
		Auth:           authn,
		Limiter:        limiter,
		AllowedOrigins: splitList(cfg.CORSOrigins),
		Logger:         base.WithField("component", "http"),
	})

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	outboxDone := startOutboxWorker(workerCtx, cfg, deps, pubs, clk, base)
	sweeperDone := startKeySweeper(workerCtx, cfg, deps, clk, base)
	defer func() {
		shutdownOutboxWorker(cancelWorkers, outboxDone, logger)
		<-sweeperDone
	}()

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	apiSrv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    lis.Addr().String(),
			"version": version.String(),
		}).Info("HTTP API слушает")
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newAuthenticator возвращает nil, если учётные данные администратора не заданы.
func newAuthenticator(cfg Config, clk clock.Clock) (*auth.Authenticator, error) {
	if !cfg.adminEnabled() {
		return nil, nil
	}
	return auth.New(auth.Config{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
		Secret:       cfg.JWTSecret,
		TTL:          cfg.JWTTTL,
	}, clk)
}

func startOutboxWorker(ctx context.Context, cfg Config, deps *runtimeDependencies, pubs *publishers, clk clock.Clock, base *log.Logger) <-chan struct{} {
	worker := outbox.NewWorker(deps.outboxRepo, pubs.events,
		outbox.WithLogger(base.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(pubs.dlq),
		outbox.WithClock(clk),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	return done
}

func startKeySweeper(ctx context.Context, cfg Config, deps *runtimeDependencies, clk clock.Clock, base *log.Logger) <-chan struct{} {
	sweeper := idempotency.NewKeySweeper(deps.idempotencyRepo, cfg.IdempotencyTTL,
		idempotency.WithLogger(base.WithField("component", "order-key-sweeper")),
		idempotency.WithClock(clk),
		idempotency.WithMetrics(metrics.NewKeySweepMetrics()),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()
	return done
}

// shutdownOutboxWorker отменяет воркер и ждёт его остановки не дольше shutdownTimeout.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health checks.
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
