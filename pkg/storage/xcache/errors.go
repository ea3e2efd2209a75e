package xcache

import "errors"

var (
	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xcache: nil client")

	// ErrEmptyKey 表示传入的 key 为空字符串。
	ErrEmptyKey = errors.New("xcache: empty key")

	// ErrCacheMiss 表示缓存未命中。
	// Remote 实现在 key 不存在时必须返回此错误。
	ErrCacheMiss = errors.New("xcache: cache miss")

	// ErrNilDestination 表示 GetInto 的目标为 nil。
	ErrNilDestination = errors.New("xcache: nil destination")
)
