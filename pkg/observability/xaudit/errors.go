package xaudit

import "errors"

var (
	// ErrClosed 表示队列已关闭。
	ErrClosed = errors.New("xaudit: queue closed")

	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xaudit: nil client")
)
