package xaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"
)

// 投递路径标识，用于 WithOnFlush 回调。
const (
	viaList    = "list"
	viaHTTP    = "http"
	viaDropped = "dropped"
)

// Queue 审计日志批量队列。并发安全。
type Queue struct {
	clientID      string
	batchSize     int
	batchInterval time.Duration
	pusher        ListPusher
	sender        BatchSender
	sendAttempts  uint
	sendDelay     time.Duration
	logger        *slog.Logger
	onFlush       func(n int, via string)
	now           func() time.Time

	mu       sync.Mutex
	items    []queued
	timer    *time.Timer
	flushing bool
	closed   bool

	// inflight 跟踪后台刷新，Shutdown 时等待
	inflight sync.WaitGroup
}

// New 创建审计队列。clientID 用于拼接远程列表 key。
func New(clientID string, opts ...Option) *Queue {
	q := &Queue{
		clientID:      clientID,
		batchSize:     DefaultBatchSize,
		batchInterval: DefaultBatchInterval,
		sendAttempts:  DefaultSendAttempts,
		sendDelay:     100 * time.Millisecond,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ListKey 返回远程列表 key。
func (q *Queue) ListKey() string {
	return ListKeyPrefix + q.clientID
}

// Add 入队一条日志。
// 未设置 Timestamp 时使用当前时间，未设置 CorrelationID 时生成一个。
func (q *Queue) Add(entry Entry) error {
	now := q.now()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, queued{entry: entry, enqueuedAt: now})
	if len(q.items) >= q.batchSize {
		q.goFlushLocked()
		q.mu.Unlock()
		return nil
	}
	if q.timer == nil {
		q.timer = time.AfterFunc(q.batchInterval, q.onTimer)
	}
	q.mu.Unlock()
	return nil
}

// Len 返回当前排队条目数。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear 丢弃全部排队条目并取消定时刷新，不做投递。
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopTimerLocked()
	q.items = nil
}

// FlushAsync 在后台刷新。
func (q *Queue) FlushAsync() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.goFlushLocked()
	}
}

// Flush 同步投递当前排队的全部条目。
// 已有刷新在执行或队列为空时直接返回。投递错误只记录日志。
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushing || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.stopTimerLocked()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	q.deliver(ctx, batch)

	q.mu.Lock()
	q.flushing = false
	// 刷新期间到达的条目安排后续定时刷新
	if len(q.items) > 0 && q.timer == nil && !q.closed {
		q.timer = time.AfterFunc(q.batchInterval, q.onTimer)
	}
	q.mu.Unlock()
}

// Shutdown 关闭队列：取消定时器，等待进行中的刷新，再同步投递剩余条目。
// ctx 到期时返回 ctx.Err()，剩余条目不再投递。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.stopTimerLocked()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.Flush(ctx)
	return nil
}

// goFlushLocked 启动后台刷新。调用方持有 q.mu 且队列未关闭。
func (q *Queue) goFlushLocked() {
	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()
		q.Flush(context.Background())
	}()
}

func (q *Queue) onTimer() {
	q.mu.Lock()
	q.timer = nil
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.goFlushLocked()
	q.mu.Unlock()
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// deliver 投递一批条目，主路径失败时回退到 HTTP。
func (q *Queue) deliver(ctx context.Context, batch []queued) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("xaudit: deliver panicked", slog.Any("panic", r), slog.Int("count", len(batch)))
		}
	}()

	entries := make([]Entry, len(batch))
	for i, it := range batch {
		entries[i] = it.entry
	}

	if q.pusher != nil && q.pusher.Connected() {
		err := q.push(ctx, entries)
		if err == nil {
			q.flushed(len(entries), viaList)
			return
		}
		q.logger.Warn("xaudit: list push failed, falling back to http",
			slog.String("key", q.ListKey()),
			slog.Int("count", len(entries)),
			slog.Any("error", err))
	}

	if q.sender == nil {
		q.logger.Warn("xaudit: no sender available, dropping batch", slog.Int("count", len(entries)))
		q.flushed(len(entries), viaDropped)
		return
	}

	stripped := make([]Entry, len(entries))
	for i, e := range entries {
		stripped[i] = e.withoutAmbient()
	}
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(q.sendAttempts),
		retry.Delay(q.sendDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return q.sender.SendLogBatch(ctx, stripped)
	})
	if err != nil {
		q.logger.Warn("xaudit: http batch failed, dropping batch",
			slog.Int("count", len(entries)),
			slog.Any("error", err))
		q.flushed(len(entries), viaDropped)
		return
	}
	q.flushed(len(entries), viaHTTP)
}

func (q *Queue) push(ctx context.Context, entries []Entry) error {
	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("xaudit: encode entry: %w", err)
		}
		payloads[i] = b
	}
	return q.pusher.Push(ctx, q.ListKey(), payloads)
}

func (q *Queue) flushed(n int, via string) {
	if q.onFlush != nil {
		q.onFlush(n, via)
	}
}
