package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookwarehouse/internal/catalog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	bookKeyPrefix = "catalog:book:"
	booksKey      = "catalog:books"
)

// NewRedisClient parses redisURL and checks the server is reachable.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// CachedCatalog caches book lookups of another catalog.Lookup in Redis.
// Misses are not cached. Redis failures fall through to the wrapped lookup.
type CachedCatalog struct {
	client *redis.Client
	next   catalog.Lookup
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedCatalog(client *redis.Client, next catalog.Lookup, ttl time.Duration, logger *zap.Logger) *CachedCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCatalog{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) GetBook(ctx context.Context, id string) (*catalog.Book, error) {
	var book catalog.Book
	if c.load(ctx, bookKeyPrefix+id, &book) {
		return &book, nil
	}

	b, err := c.next.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, bookKeyPrefix+id, b)
	return b, nil
}

func (c *CachedCatalog) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	var books []*catalog.Book
	if c.load(ctx, booksKey, &books) {
		return books, nil
	}

	books, err := c.next.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, booksKey, books)
	return books, nil
}

// Invalidate drops every cached entry for the given book ids and the book list.
func (c *CachedCatalog) Invalidate(ctx context.Context, ids ...string) error {
	keys := []string{booksKey}
	for _, id := range ids {
		keys = append(keys, bookKeyPrefix+id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}
	return nil
}

func (c *CachedCatalog) load(ctx context.Context, key string, v any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("catalog cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}
