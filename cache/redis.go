package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"dealflow/config"
	"dealflow/models"
)

// redisStore is the shared network tier. Payloads are gzip-compressed JSON;
// expiry is handled by Redis itself via SET with TTL.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(cfg config.RedisConfig) *redisStore {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &redisStore{client: redis.NewClient(opts)}
}

func (r *redisStore) get(ctx context.Context, key string) ([]models.Product, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	decompressed, err := decompress(val)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decompress: %w", err)
	}

	var products []models.Product
	if err := json.Unmarshal(decompressed, &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (r *redisStore) set(ctx context.Context, key string, products []models.Product, ttl time.Duration) error {
	val, err := json.Marshal(products)
	if err != nil {
		return err
	}

	compressed, err := compress(val)
	if err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}

	return r.client.Set(ctx, key, compressed, ttl).Err()
}

// clearPattern deletes all keys matching the glob pattern using SCAN so the
// operation stays incremental on large keyspaces.
func (r *redisStore) clearPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
