package xkeylock

import "errors"

var (
	// ErrClosed 表示 Locker 已关闭。
	ErrClosed = errors.New("xkeylock: closed")

	// ErrEmptyKey 表示 key 为空。
	ErrEmptyKey = errors.New("xkeylock: empty key")

	// ErrTooManyKeys 表示活跃 key 数达到 WithMaxKeys 上限。
	ErrTooManyKeys = errors.New("xkeylock: too many keys")

	// ErrInvalidShardCount 表示分片数不是 2 的幂。
	ErrInvalidShardCount = errors.New("xkeylock: invalid shard count")
)
