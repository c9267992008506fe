package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLockConfig 描述分布式提交锁的连接参数。
type RedisLockConfig struct {
	Address       string
	Password      string
	DB            int
	Key           string
	TTL           time.Duration
	RetryInterval time.Duration
}

// redisCommander 是锁实现依赖的最小 Redis 命令面。
type redisCommander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Close() error
}

// RedisLock 基于 Redis SET NX 实现跨副本的提交互斥：多个进程共享
// 同一签名身份时，保证同一时刻只有一个进程在广播交易。每次 Acquire
// 生成独立的持有者令牌并绑定到返回的释放句柄上：即使锁因 TTL 过期
// 被其他持有者接管，过期持有者的释放也不会误删新持有者的锁。
type RedisLock struct {
	client redisCommander
	key    string
	ttl    time.Duration
	retry  time.Duration
}

// 释放时校验持有者，避免误删他人持有的锁。
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`

// NewRedisLock 创建分布式提交锁实例。
func NewRedisLock(cfg RedisLockConfig) (*RedisLock, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisLock(client, cfg), nil
}

func newRedisLock(client redisCommander, cfg RedisLockConfig) *RedisLock {
	key := cfg.Key
	if key == "" {
		key = "arcflow:submit_lock"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &RedisLock{client: client, key: key, ttl: ttl, retry: retry}
}

// Acquire 以轮询方式抢占锁，直到成功或上下文取消。返回的释放句柄
// 只释放本次抢占持有的锁。
func (l *RedisLock) Acquire(ctx context.Context) (ReleaseFunc, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("抢占提交锁失败: %w", err)
		}
		if ok {
			return l.releaseFunc(token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLock) releaseFunc(token string) ReleaseFunc {
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			runErr := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err()
			if runErr != nil && !errors.Is(runErr, redis.Nil) {
				err = fmt.Errorf("释放提交锁失败: %w", runErr)
			}
		})
		return err
	}
}

// Close 关闭 Redis 连接。
func (l *RedisLock) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
