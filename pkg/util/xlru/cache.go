package xlru

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxSize 缓存最大条目数上限。
const maxSize = 1 << 24

// Config 缓存配置。
type Config struct {
	// Size 最大条目数，必须在 (0, 16777216] 内。
	Size int

	// TTL 条目过期时间，0 表示永不过期。
	TTL time.Duration
}

// Cache 带 TTL 的 LRU 缓存。并发安全。
// Close 后读操作返回零值，写操作静默忽略。
type Cache[K comparable, V any] struct {
	lru       *expirable.LRU[K, V]
	closed    atomic.Bool
	closeOnce sync.Once
}

// New 创建缓存。
func New[K comparable, V any](cfg Config) (*Cache[K, V], error) {
	switch {
	case cfg.Size <= 0:
		return nil, ErrInvalidSize
	case cfg.Size > maxSize:
		return nil, ErrSizeExceedsMax
	case cfg.TTL < 0:
		return nil, ErrInvalidTTL
	}
	return &Cache[K, V]{lru: expirable.NewLRU[K, V](cfg.Size, nil, cfg.TTL)}, nil
}

// Get 获取未过期的值。
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	if c.closed.Load() {
		return value, false
	}
	return c.lru.Get(key)
}

// Peek 获取未过期的值，不更新 LRU 顺序。
func (c *Cache[K, V]) Peek(key K) (value V, ok bool) {
	if c.closed.Load() {
		return value, false
	}
	return c.lru.Peek(key)
}

// Set 写入并刷新 TTL。返回 true 表示触发了 LRU 淘汰。
func (c *Cache[K, V]) Set(key K, value V) bool {
	if c.closed.Load() {
		return false
	}
	return c.lru.Add(key, value)
}

// Delete 删除条目，返回是否存在。
func (c *Cache[K, V]) Delete(key K) bool {
	if c.closed.Load() {
		return false
	}
	return c.lru.Remove(key)
}

// RemoveFunc 删除所有满足 pred 的未过期条目，返回删除数量。
// pred 在锁外执行，可以安全调用 Cache 的其他方法。
func (c *Cache[K, V]) RemoveFunc(pred func(key K, value V) bool) int {
	if c.closed.Load() {
		return 0
	}
	removed := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if ok && pred(k, v) && c.lru.Remove(k) {
			removed++
		}
	}
	return removed
}

// Len 返回条目数（可能包含尚未清理的过期条目）。
func (c *Cache[K, V]) Len() int {
	if c.closed.Load() {
		return 0
	}
	return c.lru.Len()
}

// Clear 清空缓存。
func (c *Cache[K, V]) Clear() {
	if c.closed.Load() {
		return
	}
	c.lru.Purge()
}

// Close 清空缓存并停止过期清理 goroutine。幂等。
func (c *Cache[K, V]) Close() {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.lru.Purge()
		stopCleanupGoroutine(c.lru)
	})
}

// stopCleanupGoroutine 关闭 expirable.LRU 内部的 done 通道。
// golang-lru v2.0.7 在 TTL > 0 时启动清理 goroutine 但没有公开的停止方法。
// 上游结构不匹配或通道已关闭时返回 false。
func stopCleanupGoroutine(lru any) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			stopped = false
		}
	}()

	v := reflect.ValueOf(lru)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	done := v.Elem().FieldByName("done")
	if !done.IsValid() || done.Type() != reflect.TypeOf(make(chan struct{})) || done.IsNil() {
		return false
	}

	ch := *(*chan struct{})(unsafe.Pointer(done.UnsafeAddr())) //nolint:gosec // 访问上游未导出字段
	close(ch)
	return true
}
