package presence

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/go-pollchat/internal/chaterr"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	typingKeyPrefix = "typing:"
	scanBatch       = 100
)

// RedisTracker shares typing state between server processes. Each entry is
// a key with a TTL equal to the expiry window, so redis performs the sweep.
type RedisTracker struct {
	client *redis.Client
	expiry time.Duration
}

func NewRedisTracker(ctx context.Context, redisURL string, expiry time.Duration) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, chaterr.Unavailable("connect to redis", err)
	}

	return &RedisTracker{client: client, expiry: expiry}, nil
}

func typingKey(username string) string {
	return typingKeyPrefix + username
}

func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) Heartbeat(ctx context.Context, username string, active bool) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}

	val := "0"
	if active {
		val = "1"
	}

	if err := t.client.Set(ctx, typingKey(username), val, t.expiry).Err(); err != nil {
		return chaterr.Unavailable("record heartbeat", err)
	}
	return nil
}

func (t *RedisTracker) ListActive(ctx context.Context, excluding string) ([]string, error) {
	var keys []string
	iter := t.client.Scan(ctx, 0, typingKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, chaterr.Unavailable("scan typing keys", err)
	}

	self := typingKey(strings.TrimSpace(excluding))
	keys = lo.Filter(keys, func(k string, _ int) bool {
		return k != self
	})
	if len(keys) == 0 {
		return []string{}, nil
	}

	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, chaterr.Unavailable("read typing keys", err)
	}

	// keys that expired between SCAN and MGET come back as nil
	active := lo.FilterMap(keys, func(k string, i int) (string, bool) {
		v, ok := vals[i].(string)
		return strings.TrimPrefix(k, typingKeyPrefix), ok && v == "1"
	})
	slices.Sort(active)

	return active, nil
}
