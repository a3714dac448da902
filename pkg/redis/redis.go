package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options параметры подключения
type Options struct {
	Addr     string
	Password string
	DB       int
	// Каждый SSE подписчик держит отдельное соединение pub/sub
	PoolSize int
}

// NewRedisClient создает клиента Redis для кэша, очереди вебхуков и ленты изменений
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		PoolSize:   poolSize,
		ClientName: "field-incident-sync",
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
