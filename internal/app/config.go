package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// StorageDriverMemory хранит всё в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит каталог, заказы, outbox и idempotency в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// CounterBackendStore — счётчики мест и номеров живут в основном хранилище.
	CounterBackendStore = "store"
	// CounterBackendRedis — счётчики мест и номеров живут в Redis.
	CounterBackendRedis = "redis"

	// PublisherNone — события outbox только логируются.
	PublisherNone = "none"
	// PublisherKafka — события outbox уходят в Kafka.
	PublisherKafka = "kafka"
	// PublisherRabbitMQ — события outbox уходят в очередь RabbitMQ.
	PublisherRabbitMQ = "rabbitmq"

	envPrefix = "LESSONS_"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemoLessons     bool

	CounterBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string

	Publisher     string
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string
	RabbitMQURL   string
	RabbitMQQueue string
	RabbitMQDLQ   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	IdempotencyTTL              time.Duration
	// IdempotencyCleanupInterval == 0 выводит период очистки из IdempotencyTTL.
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	JWTTTL            time.Duration

	// CORSOrigins — список origin через запятую; "*" разрешает любой.
	CORSOrigins string

	RateLimitEnabled     bool
	RateLimitCapacity    int
	RateLimitRefillEvery time.Duration

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedDemoLessons:     true,

		CounterBackend: CounterBackendStore,
		RedisPrefix:    "lessons",

		Publisher:     PublisherNone,
		KafkaTopic:    "lessons.order.events",
		KafkaDLQTopic: "lessons.order.dlq",
		RabbitMQQueue: "lessons.order.events",
		RabbitMQDLQ:   "lessons.order.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxMaxAge:       5 * time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupBatchSize: 500,

		JWTTTL: 12 * time.Hour,

		RateLimitEnabled:     true,
		RateLimitCapacity:    20,
		RateLimitRefillEvery: 3 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig читает необязательный .env и переменные окружения LESSONS_*
// поверх DefaultConfig.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	return loadConfigFrom(os.LookupEnv)
}

// loadConfigFrom собирает конфиг из произвольного источника переменных.
func loadConfigFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	p := envParser{lookupFn: lookup}

	p.str("HTTP_ADDR", &cfg.HTTPAddr)
	p.str("METRICS_ADDR", &cfg.MetricsAddr)

	p.str("STORAGE_DRIVER", &cfg.StorageDriver)
	p.str("POSTGRES_DSN", &cfg.PostgresDSN)
	p.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	p.boolean("SEED_DEMO_LESSONS", &cfg.SeedDemoLessons)

	p.str("COUNTER_BACKEND", &cfg.CounterBackend)
	p.str("REDIS_ADDR", &cfg.RedisAddr)
	p.str("REDIS_PASSWORD", &cfg.RedisPassword)
	p.integer("REDIS_DB", &cfg.RedisDB)
	p.str("REDIS_PREFIX", &cfg.RedisPrefix)

	p.str("PUBLISHER", &cfg.Publisher)
	p.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	p.str("KAFKA_TOPIC", &cfg.KafkaTopic)
	p.str("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	p.str("RABBITMQ_URL", &cfg.RabbitMQURL)
	p.str("RABBITMQ_QUEUE", &cfg.RabbitMQQueue)
	p.str("RABBITMQ_DLQ", &cfg.RabbitMQDLQ)

	p.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	p.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	p.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	p.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	p.integer("OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)
	p.duration("OUTBOX_MAX_AGE", &cfg.OutboxMaxAge)

	p.duration("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	p.duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	p.integer("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	p.str("ADMIN_USERNAME", &cfg.AdminUsername)
	p.str("ADMIN_PASSWORD_HASH", &cfg.AdminPasswordHash)
	p.str("JWT_SECRET", &cfg.JWTSecret)
	p.duration("JWT_TTL", &cfg.JWTTTL)

	p.str("CORS_ORIGINS", &cfg.CORSOrigins)

	p.boolean("RATE_LIMIT_ENABLED", &cfg.RateLimitEnabled)
	p.integer("RATE_LIMIT_CAPACITY", &cfg.RateLimitCapacity)
	p.duration("RATE_LIMIT_REFILL_EVERY", &cfg.RateLimitRefillEvery)

	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("LOG_FORMAT", &cfg.LogFormat)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	cfg.CounterBackend = strings.ToLower(cfg.CounterBackend)
	cfg.Publisher = strings.ToLower(cfg.Publisher)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	switch c.CounterBackend {
	case "", CounterBackendStore:
	case CounterBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis addr is required for redis counters"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported counter backend %q", c.CounterBackend))
	}
	switch c.Publisher {
	case "", PublisherNone:
	case PublisherKafka:
		if len(splitList(c.KafkaBrokers)) == 0 {
			errs = append(errs, errors.New("kafka brokers are required for kafka publisher"))
		}
	case PublisherRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			errs = append(errs, errors.New("rabbitmq url is required for rabbitmq publisher"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported publisher %q", c.Publisher))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and max attempts must be positive"))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyCleanupInterval < 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency ttl and cleanup batch size must be positive, cleanup interval must not be negative"))
	}
	if c.adminEnabled() && strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required when admin credentials are set"))
	}
	if (c.AdminUsername == "") != (c.AdminPasswordHash == "") {
		errs = append(errs, errors.New("admin username and password hash must be set together"))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func (c Config) adminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPasswordHash != ""
}

func (c Config) rateLimitEnabled() bool {
	return c.RateLimitEnabled && strings.TrimSpace(c.RedisAddr) != ""
}

// splitList разбирает строку "a, b,,c" в ["a" "b" "c"].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envParser читает LESSONS_* и копит ошибки разбора.
type envParser struct {
	lookupFn func(string) (string, bool)
	errs     []error
}

func (p *envParser) lookup(name string) (string, bool) {
	v, ok := p.lookupFn(envPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (p *envParser) str(name string, dst *string) {
	if v, ok := p.lookup(name); ok {
		*dst = v
	}
}

func (p *envParser) integer(name string, dst *int) {
	v, ok := p.lookup(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func (p *envParser) boolean(name string, dst *bool) {
	v, ok := p.lookup(name)
	if !ok || v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		p.errs = append(p.errs, fmt.Errorf("%s%s: invalid boolean %q", envPrefix, name, v))
	}
}

func (p *envParser) duration(name string, dst *time.Duration) {
	v, ok := p.lookup(name)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = d
}
