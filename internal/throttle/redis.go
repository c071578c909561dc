package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "steam-sessions:throttle:"

// extendScript sets the key only when its remaining TTL is shorter than the
// requested one. PTTL is -2 for a missing key.
var extendScript = redis.NewScript(`
local ttl = tonumber(ARGV[1])
local cur = redis.call('PTTL', KEYS[1])
if cur < ttl then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
	return 1
end
return 0
`)

// RedisStore shares cool-downs between processes that use the same proxies.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Until(ctx context.Context, id string) (time.Time, error) {
	ttl, err := s.client.PTTL(ctx, s.key(id)).Result()
	if err != nil {
		return time.Time{}, err
	}
	if ttl <= 0 {
		return time.Time{}, nil
	}
	return time.Now().Add(ttl), nil
}

func (s *RedisStore) Extend(ctx context.Context, id string, ttl time.Duration) error {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	until := strconv.FormatInt(time.Now().Add(ttl).UnixMilli(), 10)
	return extendScript.Run(ctx, s.client, []string{s.key(id)}, ms, until).Err()
}

func (s *RedisStore) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	until := strconv.FormatInt(time.Now().Add(ttl).UnixMilli(), 10)
	return s.client.SetNX(ctx, s.key(id), until, ttl).Result()
}
