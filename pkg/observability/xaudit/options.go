package xaudit

import (
	"log/slog"
	"time"
)

const (
	// DefaultBatchSize 触发立即刷新的队列长度。
	DefaultBatchSize = 10

	// DefaultBatchInterval 定时刷新间隔。
	DefaultBatchInterval = 100 * time.Millisecond

	// DefaultSendAttempts HTTP 回退路径的总尝试次数。
	DefaultSendAttempts = 1

	// ListKeyPrefix 远程列表 key 前缀，完整 key 为 audit-logs:{clientId}。
	ListKeyPrefix = "audit-logs:"
)

// Option 配置 Queue。
type Option func(*Queue)

// WithBatchSize 设置批量大小。
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithBatchInterval 设置定时刷新间隔。
func WithBatchInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.batchInterval = d
		}
	}
}

// WithListPusher 设置主投递路径。
func WithListPusher(p ListPusher) Option {
	return func(q *Queue) {
		q.pusher = p
	}
}

// WithBatchSender 设置 HTTP 回退投递路径。
func WithBatchSender(s BatchSender) Option {
	return func(q *Queue) {
		q.sender = s
	}
}

// WithSendAttempts 设置回退路径总尝试次数（含首次）。
func WithSendAttempts(n uint) Option {
	return func(q *Queue) {
		if n > 0 {
			q.sendAttempts = n
		}
	}
}

// WithSendDelay 设置回退路径重试间隔。
func WithSendDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.sendDelay = d
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithOnFlush 设置每批投递完成后的回调，参数为批次大小和投递路径（"list"、"http" 或 "dropped"）。
func WithOnFlush(fn func(n int, via string)) Option {
	return func(q *Queue) {
		q.onFlush = fn
	}
}
