package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/lessons/internal/health"
	"github.com/vladislavdragonenkov/lessons/internal/storage/memory"
	"github.com/vladislavdragonenkov/lessons/internal/storage/postgres"
	"github.com/vladislavdragonenkov/lessons/internal/storage/redisstore"
)

// runtimeDependencies — хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	lessons         domain.LessonRepository
	capacity        domain.CapacityStore
	sequence        domain.SequenceGenerator
	repo            domain.OrderRepository
	timelineRepo    domain.TimelineRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	// redis != nil, если Redis подключён (счётчики или rate limit).
	redis    *redis.Client
	checkers map[string]healthcheck.Checker
	closeFn  func() error
}

// demoLessons совпадает с сидом миграции 004 для запуска без PostgreSQL.
func demoLessons() []domain.Lesson {
	return []domain.Lesson{
		{ID: "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0001", Topic: "Math", Location: "London", PriceMinor: 10000, RemainingSpace: 5, TotalSpace: 5, Icon: "math.png"},
		{ID: "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0002", Topic: "English", Location: "Oxford", PriceMinor: 9000, RemainingSpace: 5, TotalSpace: 5, Icon: "english.png"},
		{ID: "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0003", Topic: "Music", Location: "Bristol", PriceMinor: 8000, RemainingSpace: 5, TotalSpace: 5, Icon: "music.png"},
		{ID: "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0004", Topic: "Art", Location: "York", PriceMinor: 7000, RemainingSpace: 5, TotalSpace: 5, Icon: "art.png"},
		{ID: "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0005", Topic: "Coding", Location: "Leeds", PriceMinor: 12000, RemainingSpace: 5, TotalSpace: 5, Icon: "coding.png"},
	}
}

// initRuntimeDependencies открывает хранилища и инициализирует счётчик номеров.
func initRuntimeDependencies(ctx context.Context, cfg Config, clk clock.Clock, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	var closers []func() error
	deps.closeFn = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*runtimeDependencies, error) {
		_ = deps.closeFn()
		return nil, err
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		lessons := memory.NewLessonStore()
		if cfg.SeedDemoLessons {
			for _, l := range demoLessons() {
				if err := lessons.Create(ctx, l); err != nil {
					return fail(fmt.Errorf("seed lesson %s: %w", l.ID, err))
				}
			}
		}
		deps.lessons = lessons
		deps.capacity = lessons
		deps.sequence = memory.NewSequence()
		deps.repo = memory.NewOrderRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository(clk)
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return fail(errors.New("postgres dsn is required for postgres storage"))
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("open postgres: %w", err))
		}
		closers = append(closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fail(fmt.Errorf("migrate postgres: %w", err))
			}
		}
		lessons := postgres.NewLessonStore(store)
		deps.lessons = lessons
		deps.capacity = lessons
		deps.sequence = postgres.NewSequence(store)
		deps.repo = postgres.NewOrderRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store, clk)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store, clk)
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres storage")

	default:
		return fail(fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver))
	}

	if cfg.CounterBackend == CounterBackendRedis || cfg.rateLimitEnabled() {
		client, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			if cfg.CounterBackend == CounterBackendRedis {
				return fail(fmt.Errorf("open redis: %w", err))
			}
			logger.WithError(err).Warn("redis is unavailable, rate limiting disabled")
		} else {
			deps.redis = client
			closers = append(closers, client.Close)
			deps.checkers["redis"] = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
		}
	}

	if cfg.CounterBackend == CounterBackendRedis {
		capacity := redisstore.NewCapacityStore(deps.redis, cfg.RedisPrefix)
		if err := capacity.SeedFrom(ctx, deps.lessons); err != nil {
			return fail(err)
		}
		deps.capacity = capacity
		deps.lessons = redisstore.NewCatalog(deps.lessons, capacity)
		deps.sequence = redisstore.NewSequence(deps.redis, cfg.RedisPrefix)
		logger.Info("using redis counters for capacity and order numbers")
	}

	if err := deps.sequence.Init(ctx); err != nil {
		return fail(fmt.Errorf("init order sequence: %w", err))
	}
	deps.checkers["outbox"] = healthcheck.NewOutboxChecker(deps.outboxRepo, cfg.OutboxMaxAge, cfg.OutboxMaxPending)

	return deps, nil
}
