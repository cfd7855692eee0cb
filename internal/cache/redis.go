package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "cropsense:answer:"

// Redis caches answers as JSON under prefix + sha256(normalized query).
type Redis struct {
	client    goredis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

func NewRedis(client goredis.UniversalClient, ttl time.Duration, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Redis{client: client, ttl: ttl, keyPrefix: keyPrefix}
}

// NewRedisClient connects and pings under a short timeout.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *Redis) Get(ctx context.Context, query string) (*models.RAGResponse, bool, error) {
	key := hashKey(c.keyPrefix, query)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var resp models.RAGResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("Dropping corrupt cache entry", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return &resp, true, nil
}

func (c *Redis) Set(ctx context.Context, query string, resp *models.RAGResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cached answer: %w", err)
	}
	key := hashKey(c.keyPrefix, query)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
