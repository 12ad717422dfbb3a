package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

const remainingField = "remaining"

// reserveScript атомарно проверяет и уменьшает остаток.
// Возвращает -1, если урока нет, 0 при нехватке мест, 1 при успехе.
var reserveScript = redis.NewScript(`
local remaining = redis.call('HGET', KEYS[1], 'remaining')
if not remaining then
    return -1
end
local qty = tonumber(ARGV[1])
if tonumber(remaining) < qty then
    return 0
end
redis.call('HINCRBY', KEYS[1], 'remaining', -qty)
return 1
`)

// releaseScript возвращает места только существующему уроку.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
end
redis.call('HINCRBY', KEYS[1], 'remaining', tonumber(ARGV[1]))
return 1
`)

// CapacityStore хранит остатки мест уроков в хешах Redis.
type CapacityStore struct {
	client redis.UniversalClient
	prefix string
}

// NewCapacityStore создаёт CapacityStore поверх клиента Redis.
func NewCapacityStore(client redis.UniversalClient, prefix string) *CapacityStore {
	return &CapacityStore{client: client, prefix: keyPrefix(prefix)}
}

func (s *CapacityStore) key(lessonID string) string {
	return s.prefix + ":capacity:" + lessonID
}

// Seed записывает начальный остаток, если ключа ещё нет. Существующие счётчики не трогаются.
func (s *CapacityStore) Seed(ctx context.Context, lessonID string, remaining int) error {
	if err := s.client.HSetNX(ctx, s.key(lessonID), remainingField, remaining).Err(); err != nil {
		return fmt.Errorf("seed capacity for lesson %s: %w", lessonID, err)
	}
	return nil
}

// SeedFrom переносит остатки из каталога в Redis.
func (s *CapacityStore) SeedFrom(ctx context.Context, catalog domain.LessonRepository) error {
	lessons, err := catalog.List(ctx)
	if err != nil {
		return fmt.Errorf("list lessons for capacity seed: %w", err)
	}
	for _, lesson := range lessons {
		if err := s.Seed(ctx, lesson.ID, lesson.RemainingSpace); err != nil {
			return err
		}
	}
	return nil
}

func (s *CapacityStore) TryReserve(ctx context.Context, lessonID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInsufficientCapacity
	}
	res, err := reserveScript.Run(ctx, s.client, []string{s.key(lessonID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("reserve lesson space: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return domain.ErrInsufficientCapacity
	default:
		return domain.ErrLessonNotFound
	}
}

func (s *CapacityStore) Release(ctx context.Context, lessonID string, qty int) error {
	res, err := releaseScript.Run(ctx, s.client, []string{s.key(lessonID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("release lesson space: %w", err)
	}
	if res < 0 {
		return domain.ErrLessonNotFound
	}
	return nil
}

// Remaining возвращает текущие остатки для набора уроков; отсутствующие пропускаются.
func (s *CapacityStore) Remaining(ctx context.Context, lessonIDs []string) (map[string]int, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(lessonIDs))
	for _, id := range lessonIDs {
		cmds[id] = pipe.HGet(ctx, s.key(id), remainingField)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read remaining capacity: %w", err)
	}

	result := make(map[string]int, len(lessonIDs))
	for id, cmd := range cmds {
		v, err := cmd.Int()
		if err != nil {
			continue
		}
		result[id] = v
	}
	return result, nil
}

var _ domain.CapacityStore = (*CapacityStore)(nil)
