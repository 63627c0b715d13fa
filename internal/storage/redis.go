package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		baseTTL: 7 * 24 * time.Hour,
	}
}

// RedisStore keeps the cart as JSON with a jittered TTL; the token has no
// TTL because its lifetime is decided by the backend.
type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisStore) LoadCart(ctx context.Context, ns string) (*domain.CartSnapshot, error) {
	data, err := r.client.Get(ctx, cartKey(ns)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.CartSnapshot
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (r *RedisStore) SaveCart(ctx context.Context, ns string, cart *domain.CartSnapshot) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(60)) * time.Minute
	if err := r.client.Set(ctx, cartKey(ns), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteCart(ctx context.Context, ns string) error {
	if err := r.client.Del(ctx, cartKey(ns)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadToken(ctx context.Context, ns string) (string, error) {
	token, err := r.client.Get(ctx, tokenKey(ns)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return token, nil
}

func (r *RedisStore) SaveToken(ctx context.Context, ns string, token string) error {
	if err := r.client.Set(ctx, tokenKey(ns), token, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteToken(ctx context.Context, ns string) error {
	if err := r.client.Del(ctx, tokenKey(ns)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func cartKey(ns string) string {
	return fmt.Sprintf("cart:%s", ns)
}

func tokenKey(ns string) string {
	return fmt.Sprintf("token:%s", ns)
}
