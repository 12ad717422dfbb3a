package httpapi

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
)

// tokenBucketScript пополняет корзину целыми интервалами и списывает один токен.
// Возвращает {allowed, tokens, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals * refill_tokens)
		last_refill = last_refill + intervals * interval_ms
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return {allowed, tokens, retry_after_ms}
`)

// RateLimitConfig задаёт параметры token bucket на клиента.
type RateLimitConfig struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// DefaultRateLimitConfig — 20 заказов подряд и один новый токен в 3 секунды.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Capacity:       20,
		RefillTokens:   1,
		RefillInterval: 3 * time.Second,
		TTL:            10 * time.Minute,
		Prefix:         "lessons:rl",
	}
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	def := DefaultRateLimitConfig()
	if c.Capacity < 1 {
		c.Capacity = def.Capacity
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = def.RefillTokens
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = def.RefillInterval
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	return c
}

type bucketResult struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

type bucket interface {
	take(ctx context.Context, key string, now time.Time) (bucketResult, error)
}

type redisBucket struct {
	client redis.Scripter
	cfg    RateLimitConfig
}

func (b *redisBucket) take(ctx context.Context, key string, now time.Time) (bucketResult, error) {
	vals, err := tokenBucketScript.Run(ctx, b.client, []string{key},
		now.UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return bucketResult{}, err
	}
	if len(vals) != 3 {
		return bucketResult{}, fmt.Errorf("unexpected rate limit script result: %v", vals)
	}
	return bucketResult{
		allowed:    vals[0] == 1,
		remaining:  vals[1],
		retryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// RateLimiter ограничивает частоту запросов с одного адреса.
// Без Redis или при его ошибках запросы пропускаются.
type RateLimiter struct {
	bucket bucket
	cfg    RateLimitConfig
	clock  clock.Clock
	logger *log.Entry
}

// NewRateLimiter создаёт лимитер поверх Redis. client == nil отключает ограничение.
func NewRateLimiter(client redis.Scripter, cfg RateLimitConfig, clk clock.Clock, logger *log.Entry) *RateLimiter {
	cfg = cfg.normalized()
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = log.WithField("component", "ratelimit")
	}
	l := &RateLimiter{cfg: cfg, clock: clk, logger: logger}
	if client != nil {
		l.bucket = &redisBucket{client: client, cfg: cfg}
	}
	return l
}

// Middleware возвращает 429 с Retry-After, когда токены закончились.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.bucket == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.cfg.Prefix + ":" + clientIP(r) + ":" + r.URL.Path
		res, err := l.bucket.take(r.Context(), key, l.clock.Now())
		if err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("rate limit check failed, request allowed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
		if !res.allowed {
			secs := int(math.Ceil(res.retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP берёт адрес без порта; X-Forwarded-For уже разобран middleware.RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
