package xcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 远程层接口
// =============================================================================

// Remote 定义远程缓存层的最小契约。
type Remote interface {
	// Get 读取原始字节。key 不存在时返回 ErrCacheMiss。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入原始字节。ttl <= 0 表示不过期。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除 key，返回删除前是否存在。
	Delete(ctx context.Context, key string) (bool, error)

	// Connected 报告远程层当前是否可用。
	Connected() bool
}

// =============================================================================
// Redis 实现
// =============================================================================

const (
	// DefaultKeyPrefix RedisRemote 默认 key 前缀。
	DefaultKeyPrefix = "xmiso:"

	// DefaultProbeInterval 远程层标记为不可用后再次尝试的间隔。
	DefaultProbeInterval = 5 * time.Second
)

// RedisOption 配置 RedisRemote。
type RedisOption func(*RedisRemote)

// WithKeyPrefix 设置 key 前缀。
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisRemote) {
		r.prefix = prefix
	}
}

// WithProbeInterval 设置不可用后的重新探测间隔。
func WithProbeInterval(d time.Duration) RedisOption {
	return func(r *RedisRemote) {
		if d > 0 {
			r.probeInterval = d
		}
	}
}

// RedisRemote 基于 go-redis 的远程层。
//
// 任一命令出现连接类错误后标记为不可用，在 probeInterval 内 Connected 返回 false，
// 之后允许下一次请求重新探测。
type RedisRemote struct {
	client        redis.UniversalClient
	prefix        string
	probeInterval time.Duration
	now           func() time.Time

	mu       sync.Mutex
	failedAt time.Time
}

// NewRedisRemote 创建 Redis 远程层。
func NewRedisRemote(client redis.UniversalClient, opts ...RedisOption) (*RedisRemote, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	r := &RedisRemote{
		client:        client,
		prefix:        DefaultKeyPrefix,
		probeInterval: DefaultProbeInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Client 返回底层客户端。
func (r *RedisRemote) Client() redis.UniversalClient {
	return r.client
}

// Ping 主动探测连接，成功后清除不可用标记。
func (r *RedisRemote) Ping(ctx context.Context) error {
	return r.track(r.client.Ping(ctx).Err())
}

// Connected 实现 Remote。
func (r *RedisRemote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedAt.IsZero() || r.now().Sub(r.failedAt) >= r.probeInterval
}

// Get 实现 Remote。
func (r *RedisRemote) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.track(nil)
		return nil, ErrCacheMiss
	}
	if err := r.track(err); err != nil {
		return nil, err
	}
	return data, nil
}

// Set 实现 Remote。
func (r *RedisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.track(r.client.Set(ctx, r.prefix+key, value, ttl).Err())
}

// Delete 实现 Remote。
func (r *RedisRemote) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err := r.track(err); err != nil {
		return false, err
	}
	return n > 0, nil
}

// track 根据命令结果维护可用性标记。
func (r *RedisRemote) track(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.failedAt = time.Time{}
		return nil
	}
	if isConnError(err) {
		r.failedAt = r.now()
	}
	return err
}

// isConnError 区分连接类错误与 Redis 返回的命令错误。
func isConnError(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
