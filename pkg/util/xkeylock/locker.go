package xkeylock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultShardCount 默认分片数。
	DefaultShardCount = 32

	maxShardCount = 1 << 16
)

// Option 配置 Locker。
type Option func(*Locker)

// WithMaxKeys 限制同时活跃的 key 数，n <= 0 表示不限制。
func WithMaxKeys(n int) Option {
	return func(l *Locker) {
		l.maxKeys = int64(max(n, 0))
	}
}

// WithShardCount 设置分片数，必须是 2 的幂。
func WithShardCount(n int) Option {
	return func(l *Locker) {
		l.shardCount = n
	}
}

// Locker 按 key 互斥。并发安全。
type Locker struct {
	shardCount int
	maxKeys    int64

	shards []shard
	mask   uint64
	keys   atomic.Int64
	closed atomic.Bool
	done   chan struct{}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// entry 一个 key 的锁。sem 容量为 1：写入即加锁，读出即解锁。
type entry struct {
	sem  chan struct{}
	refs int32 // 持有者加等待者，受 shard.mu 保护
}

// New 创建 Locker。
func New(opts ...Option) (*Locker, error) {
	l := &Locker{shardCount: DefaultShardCount, done: make(chan struct{})}
	for _, opt := range opts {
		opt(l)
	}
	n := l.shardCount
	if n <= 0 || n > maxShardCount || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShardCount, n)
	}
	l.shards = make([]shard, n)
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*entry)
	}
	l.mask = uint64(n - 1)
	return l, nil
}

// Lock 阻塞直到获得 key 的锁，返回解锁函数。解锁函数可重复调用。
// ctx 取消时返回 ctx.Err()，Locker 关闭时返回 ErrClosed。
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := l.ref(key)
	if err != nil {
		return nil, err
	}
	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	case <-l.done:
		l.unref(key, e)
		return nil, ErrClosed
	}
}

// TryLock 不等待。key 已被持有时 ok 为 false。
func (l *Locker) TryLock(key string) (unlock func(), ok bool, err error) {
	e, err := l.ref(key)
	if err != nil {
		return nil, false, err
	}
	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), true, nil
	default:
		l.unref(key, e)
		return nil, false, nil
	}
}

// Len 返回活跃 key 数（有持有者或等待者）。
func (l *Locker) Len() int {
	return int(l.keys.Load())
}

// Close 拒绝新的加锁并唤醒等待者。已持有的锁不受影响。
func (l *Locker) Close() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.done)
	}
}

func (l *Locker) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)&l.mask]
}

func (l *Locker) ref(key string) (*entry, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.closed.Load() {
		return nil, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		if !l.reserveKey() {
			return nil, ErrTooManyKeys
		}
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	return e, nil
}

// reserveKey 计入一个新 key。上限检查跨分片，用 CAS 保证不超限。
func (l *Locker) reserveKey() bool {
	if l.maxKeys <= 0 {
		l.keys.Add(1)
		return true
	}
	for {
		cur := l.keys.Load()
		if cur >= l.maxKeys {
			return false
		}
		if l.keys.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (l *Locker) unref(key string, e *entry) {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
		l.keys.Add(-1)
	}
}

func (l *Locker) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}
}
