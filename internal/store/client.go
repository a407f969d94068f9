package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultURL — адрес Redis по умолчанию для локальной разработки.
const DefaultURL = "redis://localhost:6379/0"

// NewClient подключается к Redis и проверяет соединение.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		url = DefaultURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// XREADGROUP BLOCK не должен упираться в read timeout клиента.
	opts.ReadTimeout = -1
	opts.PoolSize = 4

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Store — coordination store поверх Redis: identity, streams, доставка ответов.
type Store struct {
	rdb *redis.Client
}

// New создаёт Store.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Client возвращает нижележащий клиент Redis.
func (s *Store) Client() *redis.Client {
	return s.rdb
}
