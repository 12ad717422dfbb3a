package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

// nextScript увеличивает счётчик только если он инициализирован.
var nextScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
end
return redis.call('INCR', KEYS[1])
`)

type sequence struct {
	client redis.UniversalClient
	key    string
}

// NewSequence создаёт счётчик номеров заказов в Redis.
func NewSequence(client redis.UniversalClient, prefix string) domain.SequenceGenerator {
	return &sequence{client: client, key: keyPrefix(prefix) + ":counter:" + domain.OrderSequenceID}
}

func (s *sequence) Init(ctx context.Context) error {
	if err := s.client.SetNX(ctx, s.key, 0, 0).Err(); err != nil {
		return fmt.Errorf("init order sequence: %w", err)
	}
	return nil
}

func (s *sequence) Next(ctx context.Context) (int64, error) {
	v, err := nextScript.Run(ctx, s.client, []string{s.key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	if v < 0 {
		return 0, domain.ErrSequenceNotInitialized
	}
	return v, nil
}

var _ domain.SequenceGenerator = (*sequence)(nil)
