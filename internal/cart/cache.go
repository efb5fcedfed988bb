package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

var errStaleFill = errors.New("cached cart is newer")

// tombstone marks a key that was just invalidated. Fills are refused while it
// lives so a reader that loaded before a write cannot put the old cart back.
const tombstone = "invalidated"

type Cache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Invalidate(ctx context.Context, userID string) error
}

type RedisCache struct {
	client       *redis.Client
	baseTTL      time.Duration
	tombstoneTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:       client,
		baseTTL:      15 * time.Minute,
		tombstoneTTL: 10 * time.Second,
	}
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if string(data) == tombstone {
		return nil, ErrCacheMiss
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cached cart: %w", err)
	}

	return &cart, nil
}

// Set fills the cache with a jittered TTL so entries written together do not
// all expire together. The fill is skipped when the key holds a tombstone or a
// cart with the same or a newer version, or when the key changes meanwhile.
func (c *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	key := cacheKey(userID)
	ttl := c.baseTTL + time.Duration(rand.IntN(5))*time.Minute

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case string(current) == tombstone:
			return errStaleFill
		default:
			var cached domain.Cart
			if json.Unmarshal(current, &cached) == nil && cached.Version >= cart.Version {
				return errStaleFill
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Invalidate replaces the cached cart with a short-lived tombstone.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Set(ctx, cacheKey(userID), tombstone, c.tombstoneTTL).Err(); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "cart:" + userID
}
