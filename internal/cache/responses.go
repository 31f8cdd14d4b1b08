package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const responsePrefix = "cerebro:idem:"

// ResponseCache replays successful response bodies for retried requests that
// carry the same Idempotency-Key. Entries are scoped to the caller credential.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache returns nil when client is nil so callers can treat the
// cache as optional.
func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ResponseCache{client: client, ttl: ttl}
}

// Key derives the storage key. Neither input is stored in clear text.
func Key(token, idempotencyKey string) string {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if token == "" || idempotencyKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token + "\x00" + idempotencyKey))
	return hex.EncodeToString(sum[:])
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || key == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, responsePrefix+key).Bytes()
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// Set stores body unless an entry already exists for key.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte) error {
	if c == nil || key == "" || len(body) == 0 {
		return nil
	}
	return c.client.SetNX(ctx, responsePrefix+key, body, c.ttl).Err()
}
