package xcache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// =============================================================================
// 配置选项
// =============================================================================

// DefaultTTL Set 传入 ttl == 0 时使用的过期时间。
const DefaultTTL = 5 * time.Minute

// Option 配置 Service。
type Option func(*Service)

// WithRemote 设置远程层。nil 表示仅使用本地层。
func WithRemote(remote Remote) Option {
	return func(s *Service) {
		s.remote = remote
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultTTL 设置默认过期时间。
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithCleanupThreshold 设置本地层触发清扫的条目数。
func WithCleanupThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cleanupThreshold = n
		}
	}
}

// withClock 测试用时钟注入。
func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// =============================================================================
// Service
// =============================================================================

// Stats 本地层统计。
type Stats struct {
	Entries         int
	RemoteConnected bool
}

// Service 两级缓存服务。并发安全。
type Service struct {
	remote           Remote
	logger           *slog.Logger
	defaultTTL       time.Duration
	cleanupThreshold int
	now              func() time.Time

	local *localStore
}

// New 创建缓存服务。
func New(opts ...Option) *Service {
	s := &Service{
		logger:           slog.Default(),
		defaultTTL:       DefaultTTL,
		cleanupThreshold: DefaultCleanupThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.local = newLocalStore(s.cleanupThreshold, s.now)
	return s
}

// Get 读取缓存值。未命中或已过期返回 (nil, false)。
//
// 标量按写入时的 Go 类型还原；切片、map、结构体按 JSON 通用形式返回
// （[]any、map[string]any，数字为 float64）。需要原类型时用 GetAs 或 GetInto。
func (s *Service) Get(ctx context.Context, key string) (any, bool) {
	data, ok := s.lookup(ctx, key)
	if !ok {
		return nil, false
	}
	v, err := decode(data)
	if err != nil {
		s.logger.Warn("xcache: decode failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return v, true
}

// GetInto 读取缓存值并解码到 dst。
// 返回 (false, nil) 表示未命中。
func (s *Service) GetInto(ctx context.Context, key string, dst any) (bool, error) {
	if dst == nil {
		return false, ErrNilDestination
	}
	data, ok := s.lookup(ctx, key)
	if !ok {
		return false, nil
	}
	if err := decodeInto(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// GetAs 读取缓存值并解码为 T。
func GetAs[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var v T
	ok, err := s.GetInto(ctx, key, &v)
	if err != nil {
		s.logger.Warn("xcache: decode failed", slog.String("key", key), slog.Any("error", err))
		return v, false
	}
	return v, ok
}

// Set 写入缓存。ttl == 0 使用默认过期时间，ttl < 0 表示不过期。
// 只有值无法编码时返回错误；远程层写入失败只记录日志。
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	if s.remoteUp() {
		if err := s.remote.Set(ctx, key, data, ttl); err != nil {
			s.logger.Warn("xcache: remote set failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	s.local.set(key, data, ttl)
	return nil
}

// Delete 从两级缓存删除 key，任一层存在即返回 true。
func (s *Service) Delete(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	existed := false
	if s.remoteUp() {
		ok, err := s.remote.Delete(ctx, key)
		if err != nil {
			s.logger.Warn("xcache: remote delete failed", slog.String("key", key), slog.Any("error", err))
		}
		existed = ok
	}
	if s.local.delete(key) {
		existed = true
	}
	return existed
}

// Clear 清空本地层。远程层是共享的，不做批量删除。
func (s *Service) Clear() {
	s.local.clear()
}

// Cleanup 立即清扫本地层过期条目，返回清除数量。
func (s *Service) Cleanup() int {
	return s.local.sweep()
}

// Len 返回本地层条目数（含尚未清扫的过期条目）。
func (s *Service) Len() int {
	return s.local.len()
}

// Stats 返回统计信息。
func (s *Service) Stats() Stats {
	return Stats{
		Entries:         s.local.len(),
		RemoteConnected: s.remoteUp(),
	}
}

func (s *Service) remoteUp() bool {
	return s.remote != nil && s.remote.Connected()
}

// lookup 远程优先，远程不可用、出错或未命中时回落本地层。
func (s *Service) lookup(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	if s.remoteUp() {
		data, err := s.remote.Get(ctx, key)
		switch {
		case err == nil:
			return data, true
		case errors.Is(err, ErrCacheMiss):
		default:
			s.logger.Warn("xcache: remote get failed, using local", slog.String("key", key), slog.Any("error", err))
		}
	}
	return s.local.get(key)
}
