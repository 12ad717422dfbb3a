package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/metrics"
)

const (
	// Ключ проверяется примерно ttl/sweepsPerTTL после истечения.
	sweepsPerTTL     = 24
	minSweepInterval = time.Minute
	maxSweepInterval = time.Hour

	defaultSweepBatch = 500
	// defaultProcessingGrace больше таймаута HTTP-запроса: ключ заказа,
	// который ещё оформляется, не удаляется даже при коротком TTL.
	defaultProcessingGrace = time.Minute
)

// SweepReport — итог одного прохода очистки.
type SweepReport struct {
	// Cutoff — удалены ключи с TTL не позже этого момента.
	Cutoff  time.Time
	Deleted int
	Batches int
}

// KeySweeper удаляет ключи повторной отправки заказов, чей TTL истёк.
// После удаления тот же ключ снова оформляет новый заказ.
type KeySweeper struct {
	repo    domain.IdempotencyRepository
	clock   clock.Clock
	logger  *log.Entry
	metrics *metrics.KeySweepMetrics

	ttl      time.Duration
	interval time.Duration
	grace    time.Duration
	batch    int
}

// SweeperOption настраивает KeySweeper.
type SweeperOption func(*KeySweeper)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(s *KeySweeper) { s.logger = logger }
}

// WithClock подменяет часы, по которым считается просрочка ключей.
func WithClock(clk clock.Clock) SweeperOption {
	return func(s *KeySweeper) { s.clock = clk }
}

// WithMetrics подключает метрики очистки.
func WithMetrics(m *metrics.KeySweepMetrics) SweeperOption {
	return func(s *KeySweeper) { s.metrics = m }
}

// WithInterval задаёт интервал явно; 0 оставляет расчёт от TTL.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *KeySweeper) { s.interval = interval }
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(n int) SweeperOption {
	return func(s *KeySweeper) { s.batch = n }
}

// WithProcessingGrace задаёт, сколько ключ живёт после TTL, прежде чем его можно удалить.
func WithProcessingGrace(d time.Duration) SweeperOption {
	return func(s *KeySweeper) { s.grace = d }
}

// NewKeySweeper создаёт очистку для ключей, выданных Guard с тем же ttl.
func NewKeySweeper(repo domain.IdempotencyRepository, ttl time.Duration, opts ...SweeperOption) *KeySweeper {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s := &KeySweeper{repo: repo, ttl: ttl, grace: defaultProcessingGrace}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-key-sweeper")
	}
	if s.clock == nil {
		s.clock = clock.NewSystem()
	}
	if s.interval <= 0 {
		s.interval = SweepInterval(ttl)
	}
	if s.batch <= 0 {
		s.batch = defaultSweepBatch
	}
	if s.grace < 0 {
		s.grace = 0
	}
	return s
}

// SweepInterval выводит период очистки из TTL ключей: ttl/24 в пределах [1m, 1h].
func SweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / sweepsPerTTL
	switch {
	case interval < minSweepInterval:
		return minSweepInterval
	case interval > maxSweepInterval:
		return maxSweepInterval
	default:
		return interval
	}
}

// Interval возвращает период между проходами.
func (s *KeySweeper) Interval() time.Duration { return s.interval }

// Run выполняет проход сразу и затем каждые Interval до отмены ctx.
func (s *KeySweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("order key sweeper is disabled: repo is nil")
		return
	}
	s.logger.WithFields(log.Fields{
		"ttl":      s.ttl,
		"interval": s.interval,
	}).Info("order key sweeper started")

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *KeySweeper) runOnce(ctx context.Context) {
	report, err := s.Sweep(ctx)
	entry := s.logger.WithFields(log.Fields{
		"deleted": report.Deleted,
		"batches": report.Batches,
		"cutoff":  report.Cutoff,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if s.metrics != nil {
			s.metrics.RecordSweepFailed(report.Deleted)
		}
		entry.WithError(err).Warn("order key sweep failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(report.Deleted)
	}
	if report.Deleted > 0 {
		entry.Info("expired order keys deleted")
	}
}

// Sweep удаляет ключи, чей TTL истёк раньше now-grace, порциями до исчерпания.
func (s *KeySweeper) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Cutoff: s.clock.Now().Add(-s.grace)}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		deleted, err := s.repo.DeleteExpired(report.Cutoff, s.batch)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Deleted += deleted
		if deleted < s.batch {
			return report, nil
		}
	}
}
