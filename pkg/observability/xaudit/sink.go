package xaudit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -source=sink.go -destination=mock_sink_test.go -package=xaudit

// ListPusher 主投递路径：把一批已编码条目追加到远程列表。
type ListPusher interface {
	// Push 按顺序追加 payloads 到 key。
	Push(ctx context.Context, key string, payloads [][]byte) error

	// Connected 报告后端当前是否可用。
	Connected() bool
}

// BatchSender 回退投递路径：HTTP 批量提交。
type BatchSender interface {
	SendLogBatch(ctx context.Context, entries []Entry) error
}

// DefaultProbeInterval RedisPusher 标记为不可用后再次尝试的间隔。
const DefaultProbeInterval = 5 * time.Second

// RedisPusher 基于 go-redis 的 ListPusher。
type RedisPusher struct {
	client        redis.UniversalClient
	probeInterval time.Duration
	now           func() time.Time

	mu       sync.Mutex
	failedAt time.Time
}

// NewRedisPusher 创建 RedisPusher。probeInterval <= 0 使用默认值。
func NewRedisPusher(client redis.UniversalClient, probeInterval time.Duration) (*RedisPusher, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	return &RedisPusher{
		client:        client,
		probeInterval: probeInterval,
		now:           time.Now,
	}, nil
}

// Push 实现 ListPusher。整批通过一次 RPUSH 写入，保持 FIFO 顺序。
func (p *RedisPusher) Push(ctx context.Context, key string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]any, len(payloads))
	for i, b := range payloads {
		values[i] = b
	}
	err := p.client.RPush(ctx, key, values...).Err()

	p.mu.Lock()
	defer p.mu.Unlock()
	var rerr redis.Error
	switch {
	case err == nil:
		p.failedAt = time.Time{}
	case !errors.As(err, &rerr):
		p.failedAt = p.now()
	}
	return err
}

// Connected 实现 ListPusher。
func (p *RedisPusher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedAt.IsZero() || p.now().Sub(p.failedAt) >= p.probeInterval
}
