package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisを使用したStore実装。
type RedisStore struct {
	// client はgo-redisのクライアント。
	client *redis.Client
}

// NewRedisStore は新しいRedisStoreを生成する。
// addrには接続先アドレス（例: "localhost:6379"）を指定する。
func NewRedisStore(addr, password string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &RedisStore{client: client}
}

// Get はキーに対応する値を取得する。
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("Redisからの取得に失敗: %w", err)
	}
	return value, true, nil
}

// Set はキーに値を設定する。
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("Redisへの設定に失敗: %w", err)
	}
	return nil
}

// Incr はキーのカウンタを1増やし、増加後の値を返す。
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("Redisのカウンタ増加に失敗: %w", err)
	}
	return count, nil
}

// Expire はキーに有効期限を設定する。
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("Redisの有効期限設定に失敗: %w", err)
	}
	return nil
}

// TTL はキーの残り有効期限を返す。
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("Redisの有効期限取得に失敗: %w", err)
	}
	if ttl < 0 {
		// キーが存在しない、または有効期限が設定されていない
		return 0, nil
	}
	return ttl, nil
}

// Ping はRedisへの到達性を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redisへの疎通確認に失敗: %w", err)
	}
	return nil
}
