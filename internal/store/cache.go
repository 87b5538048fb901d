package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/metrics"
	"github.com/leafsii/leafsii-dsc/pkg/kv"
	memkv "github.com/leafsii/leafsii-dsc/pkg/kv/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// When Redis is unavailable, fall back to an in-memory kv.Store
	kvStore kv.Store
	// In-memory pubsub hub for when Redis is unavailable
	hub *Hub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		logger.Infow("No Redis address configured; using in-memory cache")
		return NewMemoryCache(logger, m), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		logger.Warnw("Redis unavailable; using in-memory cache with in-process pubsub", "error", err)
		return NewMemoryCache(logger, m), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: m,
	}, nil
}

// NewMemoryCache builds a cache that never touches the network.
func NewMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		kvStore: memkv.NewStore(),
		hub:     NewHub(),
		logger:  logger,
		metrics: m,
	}
}

// Cache key prefixes and channels
const (
	KeyAccount      = "dsc:account"
	KeyPrice        = "dsc:price"
	KeyAssets       = "dsc:assets"
	ChannelEvents   = "dsc:events"
	ChannelAllEvent = "dsc:events:all"
)

const (
	AccountTTL = 10 * time.Second
	AssetsTTL  = time.Minute
)

// Error types
var (
	ErrCacheMiss = errors.New("cache miss")
)

func AccountKey(user common.Address) string {
	return fmt.Sprintf("%s:%s", KeyAccount, user.Hex())
}

func PriceKey(asset common.Address) string {
	return fmt.Sprintf("%s:%s", KeyPrice, asset.Hex())
}

// UserChannel is the stream carrying events that touch user.
func UserChannel(user common.Address) string {
	return fmt.Sprintf("%s:%s", ChannelEvents, user.Hex())
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			c.logger.Errorw("Cache get error", "key", key, "error", err)
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	} else {
		val, err := c.kvStore.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, metricKey(key))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) recordMiss(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx, metricKey(key))
	}
}

// metricKey drops the per-address suffix so metric cardinality stays bounded.
func metricKey(key string) string {
	for _, prefix := range []string{KeyAccount, KeyPrice} {
		if strings.HasPrefix(key, prefix+":") {
			return prefix
		}
	}
	return key
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	count, err := c.kvStore.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return count > 0, nil
}

// Specialized cache methods
func (c *Cache) GetAccount(ctx context.Context, user common.Address, dest interface{}) error {
	return c.Get(ctx, AccountKey(user), dest)
}

func (c *Cache) SetAccount(ctx context.Context, user common.Address, value interface{}) error {
	return c.Set(ctx, AccountKey(user), value, AccountTTL)
}

func (c *Cache) InvalidateAccounts(ctx context.Context, users ...common.Address) error {
	keys := make([]string, 0, len(users))
	for _, u := range users {
		if u != (common.Address{}) {
			keys = append(keys, AccountKey(u))
		}
	}
	return c.Delete(ctx, keys...)
}

func (c *Cache) GetPrice(ctx context.Context, asset common.Address, dest interface{}) error {
	return c.Get(ctx, PriceKey(asset), dest)
}

func (c *Cache) SetPrice(ctx context.Context, asset common.Address, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, PriceKey(asset), value, ttl)
}

// Pub/Sub methods for real-time updates
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.hub.Publish(channel, string(data))
	c.logger.Debugw("Published to in-memory pubsub", "channel", channel)
	return nil
}

// Subscribe listens on the given channels. A channel ending in '*' matches by prefix.
// If Redis refuses the subscription the returned channel is already closed.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) Subscription {
	if c.client != nil {
		sub, err := newRedisSubscription(ctx, c.client, channels)
		if err != nil {
			c.logger.Errorw("Subscribe error", "channels", channels, "error", err)
			return closedSubscription(channels)
		}
		return sub
	}
	return c.hub.Subscribe(ctx, channels...)
}

// IsInMemoryMode returns true if the cache is running in in-memory mode
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return c.kvStore.Ping(ctx)
}

// Close connection
func (c *Cache) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if c.kvStore != nil {
		if closeErr := c.kvStore.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// PriceSnapshot is the cached view of one collateral asset's price.
type PriceSnapshot struct {
	Asset     string    `json:"asset"`
	Symbol    string    `json:"symbol"`
	Feed      string    `json:"feed"`
	Raw       string    `json:"raw"`
	Decimals  uint8     `json:"decimals"`
	Price     string    `json:"price"`
	Formatted string    `json:"formatted"`
	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}

// PriceChannel carries PriceSnapshot updates for one asset symbol.
func PriceChannel(symbol string) string {
	return fmt.Sprintf("%s:%s", KeyPrice, strings.ToUpper(symbol))
}
