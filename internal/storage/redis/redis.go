// redis — хранилище сессии в Redis: для развёртываний, где процесс клиента
// эфемерен (контейнер), а сессия должна пережить его перезапуск.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/estate-session/internal/storage"
)

// Storage хранит ключи сессии как отдельные строки с общим префиксом.
type Storage struct {
	rdb    *redis.Client
	prefix string
}

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет соединение. Если prefix пустой — используется "estate:session:".
func New(ctx context.Context, redisURL, prefix string) (*Storage, error) {
	const op = "storage.redis.New"

	if prefix == "" {
		prefix = "estate:session:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{rdb: rdb, prefix: prefix}, nil
}

func (s *Storage) key(k string) string { return s.prefix + k }

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	const op = "storage.redis.Get"

	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return v, nil
}

// SetMany пишет все ключи в MULTI/EXEC, чтобы читатель не увидел половину пары.
func (s *Storage) SetMany(ctx context.Context, kv map[string]string) error {
	const op = "storage.redis.SetMany"

	if len(kv) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for k, v := range kv {
		pipe.Set(ctx, s.key(k), v, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	const op = "storage.redis.Delete"

	if len(keys) == 0 {
		return nil
	}

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}

	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return nil
}

func (s *Storage) Close() error { return s.rdb.Close() }

func mapErr(err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return storage.ErrNotFound
	case errors.Is(err, redis.ErrClosed):
		return storage.ErrClosed
	default:
		return err
	}
}
