package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript はキーのソート済みセットからウィンドウ外のメンバーを削除し、
// 件数が上限未満であれば現在時刻を追加する。判定と追加を1回の往復で原子的に行う。
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisStore はRedisのソート済みセットで状態を保持するStore。
// キーは (IP, エンドポイント) 単位で、ウィンドウ経過後はTTLで消える。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "musicroom:ratelimit"}
}

// NewRedisClient はREDIS_URL形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Hit はStoreの実装。
func (s *RedisStore) Hit(ctx context.Context, clientIP, endpoint string, now time.Time, window time.Duration, maxRequests int) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", s.prefix, endpoint, clientIP)
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), maxRequests, uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("sliding window script: %w", err)
	}
	return res == 1, nil
}
