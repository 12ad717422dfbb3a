package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

const (
	// HeaderKey — заголовок, которым клиент помечает повторные отправки заказа.
	HeaderKey  = "Idempotency-Key"
	defaultTTL = 24 * time.Hour
	maxKeyLen  = 128
)

var (
	// ErrRequestInProgress — запрос с тем же ключом ещё обрабатывается.
	ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrKeyTooLong — ключ длиннее допустимого.
	ErrKeyTooLong = errors.New("idempotency key is too long")
)

var panicBody = []byte(`{"error":"internal server error"}`)

// Response — сохранённый ответ, который отдаётся при повторе.
type Response struct {
	Status int
	Body   []byte
	// Replayed выставляется, если ответ взят из кеша.
	Replayed bool
}

// Guard выполняет обработчик не более одного раза на ключ и воспроизводит его ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	clock  clock.Clock
	ttl    time.Duration
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl <= 0 означает 24 часа.
func NewGuard(repo domain.IdempotencyRepository, clk clock.Clock, ttl time.Duration, logger *log.Entry) *Guard {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{repo: repo, clock: clk, ttl: ttl, logger: logger}
}

// RequestHash строит отпечаток запроса: метод, путь и тело.
func RequestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute запускает handler, если ключ новый, и сохраняет его ответ.
// Пустой ключ отключает защиту. Повтор с тем же отпечатком получает сохранённый ответ,
// с другим отпечатком — domain.ErrIdempotencyHashMismatch.
func (g *Guard) Execute(ctx context.Context, key, requestHash string, handler func(context.Context) Response) (Response, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return handler(ctx), nil
	}
	if len(key) > maxKeyLen {
		return Response{}, ErrKeyTooLong
	}

	record, err := g.repo.CreateProcessing(key, requestHash, g.clock.Now().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	resp := g.run(ctx, key, handler)
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	g.store(key, resp)
	return resp, nil
}

// run вызывает handler. При панике ключ закрывается ответом 500, паника пробрасывается дальше.
func (g *Guard) run(ctx context.Context, key string, handler func(context.Context) Response) Response {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithField("idempotency_key", key).WithField("panic", r).Error("handler panicked, idempotency key closed as failed")
			g.store(key, Response{Status: http.StatusInternalServerError, Body: panicBody})
			panic(r)
		}
	}()
	return handler(ctx)
}

func (g *Guard) store(key string, resp Response) {
	entry := g.logger.WithFields(log.Fields{
		"idempotency_key": key,
		"status":          resp.Status,
	})
	if resp.Status >= 200 && resp.Status < 300 {
		if err := g.repo.MarkDone(key, resp.Body, resp.Status); err != nil {
			entry.WithError(err).Warn("failed to store idempotent success response")
		}
	} else if err := g.repo.MarkFailed(key, resp.Body, resp.Status); err != nil {
		entry.WithError(err).Warn("failed to store idempotent failure response")
	}
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status.Replayable():
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			return Response{Status: status, Body: record.ResponseBody, Replayed: true}, nil
		case record.Status == domain.IdempotencyStatusProcessing:
			return Response{}, ErrRequestInProgress
		default:
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		g.logger.WithError(createErr).Warn("failed to create idempotency record")
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
