package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ytget/clipqueue/internal/config"
)

// Open builds the store selected by settings.StoreDriver
func Open(ctx context.Context, s config.Settings) (Store, error) {
	switch s.StoreDriver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", s.RedisAddr, err)
		}
		return NewRedisStore(client, s.RedisKeyPrefix), nil
	case config.DriverPostgres:
		return OpenPostgres(ctx, s.DatabaseURL)
	default:
		return NewMemoryStore(), nil
	}
}
