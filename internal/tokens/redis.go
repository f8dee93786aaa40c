package tokens

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys live two days so a late check-in near midnight still finds its counter.
const dayKeyTTL = 48 * time.Hour

var nextTokenScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisAllocator issues tokens with Redis INCR, one key per service day.
type RedisAllocator struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAllocator(client redis.UniversalClient, prefix string) *RedisAllocator {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "branchq:tokens"
	}
	return &RedisAllocator{client: client, prefix: trimmed}
}

func (r *RedisAllocator) key(day string) string {
	return fmt.Sprintf("%s:%s", r.prefix, day)
}

func (r *RedisAllocator) NextToken(ctx context.Context, day string) (int, error) {
	raw, err := nextTokenScript.Run(ctx, r.client, []string{r.key(day)}, dayKeyTTL.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis next token: %w", err)
	}
	value, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected redis token type: %T", raw)
	}
	return int(value), nil
}

// NewRedisClient dials and pings Redis.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
