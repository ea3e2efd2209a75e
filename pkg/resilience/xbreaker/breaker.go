package xbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultFailureThreshold 默认连续失败阈值。
	DefaultFailureThreshold = 3

	// DefaultResetTimeout 默认从 Open 恢复到 HalfOpen 的等待时间。
	DefaultResetTimeout = 60 * time.Second
)

// errRecordedFailure 上报失败时传给 gobreaker 的结果错误。
// done(nil) 表示成功，done(err) 表示失败。
var errRecordedFailure = errors.New("xbreaker: recorded failure")

// Snapshot 熔断器状态快照。
type Snapshot struct {
	Name          string
	State         State
	FailureCount  int
	LastFailureAt time.Time
	OpenedAt      time.Time
}

// Breaker 熔断器。
//
// 所有方法并发安全。底层 gobreaker 只在 mu 保护下访问，
// 以保证 failureCount / openedAt 与状态转换保持一致。
type Breaker struct {
	name          string
	tripPolicy    TripPolicy
	resetTimeout  time.Duration
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu            sync.Mutex
	cb            *gobreaker.TwoStepCircuitBreaker[struct{}]
	state         State
	failureCount  int
	lastFailureAt time.Time
	openedAt      time.Time
}

// Option 熔断器配置选项
type Option func(*Breaker)

// WithFailureThreshold 设置连续失败阈值，等价于 WithTripPolicy(NewConsecutiveFailures(n))。
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.tripPolicy = NewConsecutiveFailures(uint32(n))
		}
	}
}

// WithTripPolicy 设置熔断判定策略。
func WithTripPolicy(p TripPolicy) Option {
	return func(b *Breaker) {
		if p != nil {
			b.tripPolicy = p
		}
	}
}

// WithResetTimeout 设置 Open 到 HalfOpen 的等待时间。
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithOnStateChange 设置状态变化回调。
// 回调在锁外同步执行，可以安全地读取 Snapshot。
func WithOnStateChange(f func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = f
	}
}

// New 创建熔断器。
//
// 默认配置：连续失败 3 次熔断，60 秒后进入半开。
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		tripPolicy:   NewConsecutiveFailures(DefaultFailureThreshold),
		resetTimeout: DefaultResetTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cb = b.build()
	return b
}

// build 构建底层两阶段熔断器。
// HalfOpen 只放行一个探测请求，一次成功即关闭。
func (b *Breaker) build() *gobreaker.TwoStepCircuitBreaker[struct{}] {
	return gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1,
		Timeout:     b.resetTimeout,
		ReadyToTrip: b.tripPolicy.ReadyToTrip,
	})
}

// RecordSuccess 上报一次成功。
// failureCount 归零；HalfOpen 时转换为 Closed。
func (b *Breaker) RecordSuccess() {
	b.record(true)
}

// RecordFailure 上报一次失败。
// failureCount 加一；达到阈值时转换为 Open 并记录 openedAt。
func (b *Breaker) RecordFailure() {
	b.record(false)
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	changes := b.observe(nil)
	if success {
		b.failureCount = 0
	} else {
		b.failureCount++
		b.lastFailureAt = b.now()
	}
	// Open 状态下 Allow 返回 ErrOpenState，结果不参与统计
	if done, err := b.cb.Allow(); err == nil {
		if success {
			done(nil)
		} else {
			done(errRecordedFailure)
		}
	}
	changes = b.observe(changes)
	b.mu.Unlock()

	b.notify(changes)
}

// IsOpen 判断熔断器是否处于打开状态。
//
// Open 且已超过 ResetTimeout 时转换为 HalfOpen 并返回 false，放行一次探测。
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// State 返回当前状态。
// 超时后的 Open 会被推进为 HalfOpen。
func (b *Breaker) State() State {
	b.mu.Lock()
	changes := b.observe(nil)
	state := b.state
	b.mu.Unlock()

	b.notify(changes)
	return state
}

// Reset 强制回到 Closed，清空计数。
func (b *Breaker) Reset() {
	b.mu.Lock()
	changes := b.observe(nil)
	b.cb = b.build()
	b.failureCount = 0
	b.openedAt = time.Time{}
	if b.state != StateClosed {
		changes = append(changes, transition{from: b.state, to: StateClosed})
		b.state = StateClosed
	}
	b.mu.Unlock()

	b.notify(changes)
}

// Snapshot 返回状态快照。
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	changes := b.observe(nil)
	s := Snapshot{
		Name:          b.name,
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
		OpenedAt:      b.openedAt,
	}
	b.mu.Unlock()

	b.notify(changes)
	return s
}

// Name 返回熔断器名称。
func (b *Breaker) Name() string {
	return b.name
}

// ResetTimeout 返回 Open 到 HalfOpen 的等待时间。
func (b *Breaker) ResetTimeout() time.Duration {
	return b.resetTimeout
}

type transition struct {
	from, to State
}

// observe 同步底层状态，记录状态转换；进入 Open 时记录 openedAt。
// 调用方必须持有 mu。
func (b *Breaker) observe(changes []transition) []transition {
	to := b.cb.State()
	if to == b.state {
		return changes
	}
	if to == StateOpen {
		b.openedAt = b.now()
	}
	changes = append(changes, transition{from: b.state, to: to})
	b.state = to
	return changes
}

func (b *Breaker) notify(changes []transition) {
	if b.onStateChange == nil {
		return
	}
	for _, c := range changes {
		b.onStateChange(b.name, c.from, c.to)
	}
}
